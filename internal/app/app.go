// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package app wires configuration, the user store, the one-shot legacy
// import and the authenticator into a running gatekeeper.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/memory"
	"github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/hashing"
	"github.com/holomush/gatekeeper/internal/migration"
	"github.com/holomush/gatekeeper/internal/store"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Deps contains injectable dependencies for Bootstrap.
// All fields with nil values will use their default implementations.
type Deps struct {
	// ConnectStore opens the canonical store pool.
	// Default: store.Connect
	ConnectStore func(ctx context.Context, url string, opts store.PoolOptions) (*pgxpool.Pool, error)

	// MigrateSchema brings the canonical schema up to date.
	// Default: applies every embedded migration through store.Migrator
	MigrateSchema func(url string) error

	// OpenSource connects to the legacy database of a one-shot import.
	// Default: migration.OpenSource
	OpenSource func(ctx context.Context, t migration.Type, cfg migration.SourceConfig) (*migration.Source, error)

	// DisableMigration switches the one-shot import off in the config file.
	// Default: config.DisableMigrationOnNextStartup
	DisableMigration func(path string) error

	// Kicker disconnects principals on behalf of the authenticator.
	Kicker auth.Kicker

	// Registerer receives the service metrics. Optional.
	Registerer prometheus.Registerer
}

// App is a bootstrapped gatekeeper.
type App struct {
	Config        *config.Config
	Users         auth.UserRepository
	Sessions      auth.SessionRepository
	Hashing       *hashing.Registry
	Authenticator *auth.Authenticator
	// Import is the report of the startup import, nil when none ran.
	Import *migration.Report

	logger *slog.Logger
	pool   *pgxpool.Pool
}

// Bootstrap builds an App from cfg. configPath is the file cfg was loaded
// from; after a successful startup import the import flag is switched off
// there so it runs once.
func Bootstrap(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger, deps *Deps) (*App, error) {
	if deps == nil {
		deps = &Deps{}
	}
	deps.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := hashing.NewDefaultRegistry(cfg.DefaultCryptoProvider, cfg.BCryptCost)
	if err != nil {
		return nil, oops.Code("APP_INIT_FAILED").With("operation", "create hashing registry").Wrap(err)
	}

	a := &App{Config: cfg, Hashing: registry, logger: logger}
	if err := a.openStore(ctx, deps); err != nil {
		return nil, err
	}

	if cfg.Migration.OnNextStartup {
		if err := a.runStartupImport(ctx, configPath, deps); err != nil {
			a.Close()
			return nil, err
		}
	}

	if deps.Registerer != nil {
		auth.RegisterMetrics(deps.Registerer)
		migration.RegisterMetrics(deps.Registerer)
	}
	authn, err := auth.NewAuthenticator(auth.Deps{
		Users:      a.Users,
		Sessions:   a.Sessions,
		Hashing:    registry,
		Kicker:     deps.Kicker,
		Logger:     logger,
		Registerer: deps.Registerer,
	}, cfg.AuthSettings())
	if err != nil {
		a.Close()
		return nil, oops.Code("APP_INIT_FAILED").With("operation", "create authenticator").Wrap(err)
	}
	a.Authenticator = authn
	if deps.Registerer != nil {
		deps.Registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gatekeeper_active_flows",
			Help: "Principals currently connected to the authenticator",
		}, func() float64 { return float64(authn.ActiveFlows()) }))
	}

	logger.InfoContext(ctx, "gatekeeper ready",
		"store", a.storeKind(),
		"default_crypto_provider", cfg.DefaultCryptoProvider,
		"conflict_strategy", cfg.ConflictStrategy)
	return a, nil
}

func (a *App) openStore(ctx context.Context, deps *Deps) error {
	url := a.Config.Database.URL
	if url == "" {
		a.logger.WarnContext(ctx, "no database url configured, users are kept in memory")
		a.Users = memory.NewUserStore()
		a.Sessions = memory.NewSessionStore()
		return nil
	}

	if err := deps.MigrateSchema(url); err != nil {
		return oops.Code("APP_INIT_FAILED").With("operation", "migrate schema").Wrap(err)
	}
	pool, err := deps.ConnectStore(ctx, url, store.PoolOptions{
		MaxConns: a.Config.Database.MaxConns,
		Attempts: a.Config.Database.ConnectAttempts,
		Logger:   a.logger,
	})
	if err != nil {
		return oops.Code("APP_INIT_FAILED").With("operation", "connect store").Wrap(err)
	}
	a.pool = pool
	a.Users = postgres.NewUserRepository(pool)
	a.Sessions = postgres.NewSessionRepository(pool)
	return nil
}

// runStartupImport performs the configured one-shot import. A run that
// aborts fails startup and leaves the flag on so the next start retries.
func (a *App) runStartupImport(ctx context.Context, configPath string, deps *Deps) error {
	typ, srcCfg, err := a.Config.MigrationSource()
	if err != nil {
		return err
	}
	report, err := Import(ctx, ImportRequest{
		Users:   a.Users,
		Hashing: a.Hashing,
		Creator: auth.UUIDCreator(a.Config.NewUUIDCreator),
		Logger:  a.logger,
		Type:    typ,
		Source:  srcCfg,
		Open:    deps.OpenSource,
	})
	a.Import = report
	if err != nil {
		return oops.Code("APP_INIT_FAILED").With("operation", "startup import").Wrap(err)
	}

	if configPath == "" {
		a.logger.WarnContext(ctx, "startup import finished but no config file to update; disable migration.on-next-startup manually")
		return nil
	}
	if err := deps.DisableMigration(configPath); err != nil {
		errutil.LogErrorContext(ctx, a.logger, slog.LevelWarn, "could not disable migration.on-next-startup", err)
	}
	return nil
}

// ImportRequest describes one legacy import.
type ImportRequest struct {
	Users   auth.UserRepository
	Hashing *hashing.Registry
	Creator auth.UUIDCreator
	Logger  *slog.Logger
	Type    migration.Type
	Source  migration.SourceConfig
	// Open defaults to migration.OpenSource.
	Open func(context.Context, migration.Type, migration.SourceConfig) (*migration.Source, error)
}

// Import opens the legacy source and runs one migration into req.Users. The
// report is returned whenever the run started, even if it aborted.
func Import(ctx context.Context, req ImportRequest) (*migration.Report, error) {
	open := req.Open
	if open == nil {
		open = migration.OpenSource
	}
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := migration.NewEngine(req.Users, req.Hashing,
		migration.WithLogger(logger),
		migration.WithUUIDCreator(req.Creator))
	if err != nil {
		return nil, err
	}
	src, err := open(ctx, req.Type, req.Source)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			errutil.LogErrorContext(ctx, logger, slog.LevelWarn, "closing legacy source", closeErr)
		}
	}()
	logger.InfoContext(ctx, "importing legacy accounts", "type", req.Type.ID, "table", src.Table)
	return engine.Run(ctx, src)
}

// SweepSessions deletes expired sessions every interval until ctx ends.
func (a *App) SweepSessions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Authenticator.SweepSessions(ctx)
			if err != nil {
				errutil.LogErrorContext(ctx, a.logger, slog.LevelWarn, "session sweep failed", err)
				continue
			}
			if n > 0 {
				a.logger.DebugContext(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}

// Close stops the authenticator and releases the store.
func (a *App) Close() {
	if a.Authenticator != nil {
		a.Authenticator.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) storeKind() string {
	if a.pool != nil {
		return "postgres"
	}
	return "memory"
}

func (d *Deps) defaults() {
	if d.ConnectStore == nil {
		d.ConnectStore = store.Connect
	}
	if d.MigrateSchema == nil {
		d.MigrateSchema = MigrateSchema
	}
	if d.OpenSource == nil {
		d.OpenSource = migration.OpenSource
	}
	if d.DisableMigration == nil {
		d.DisableMigration = config.DisableMigrationOnNextStartup
	}
}

// MigrateSchema applies every pending canonical schema migration.
func MigrateSchema(url string) error {
	m, err := store.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}
