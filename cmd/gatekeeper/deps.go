// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/gatekeeper/internal/app"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// Bootstrap builds the application.
	// Default: app.Bootstrap
	Bootstrap func(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger, deps *app.Deps) (*app.App, error)

	// AppDeps is handed to Bootstrap. Its Registerer is replaced by the
	// observability registry when metrics are enabled.
	AppDeps *app.Deps

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, register ...observability.RegisterFunc) ObservabilityServer
}

func (d *ServeDeps) defaults() {
	if d.Bootstrap == nil {
		d.Bootstrap = app.Bootstrap
	}
	if d.AppDeps == nil {
		d.AppDeps = &app.Deps{}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker, register ...observability.RegisterFunc) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, register...)
		}
	}
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}

// SchemaMigrator interface wraps the methods used from store.Migrator.
type SchemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// MigratorFactory opens a SchemaMigrator for a database URL.
type MigratorFactory func(databaseURL string) (SchemaMigrator, error)

func defaultMigratorFactory(databaseURL string) (SchemaMigrator, error) {
	return store.NewMigrator(databaseURL)
}
