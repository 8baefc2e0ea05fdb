// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
)

const (
	defaultSweepInterval = time.Minute
	shutdownTimeout      = 5 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var sweepInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gatekeeper service",
		Long: `Bootstrap the user store, run the configured one-shot legacy import,
then keep the authenticator running with health and metrics endpoints
until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, logger, sweepInterval, cmd, nil)
		},
	}

	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", defaultSweepInterval, "how often expired sessions are removed")

	return cmd
}

// runServeWithDeps runs the service with injectable dependencies until a
// signal arrives or ctx ends. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger, sweepInterval time.Duration, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.defaults()
	if sweepInterval <= 0 {
		return oops.Code("CONFIG_INVALID").With("sweep_interval", sweepInterval).
			Errorf("sweep-interval must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load, registerBuildInfo)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.InfoContext(ctx, "observability server started", "addr", obsServer.Addr())
		deps.AppDeps.Registerer = obsServer.Registry()
	}
	defer stopObservability(obsServer, logger)

	a, err := deps.Bootstrap(ctx, cfg, configFile, logger, deps.AppDeps)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.SweepSessions(ctx, sweepInterval)
	}()
	defer wg.Wait()
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Println("Gatekeeper started")

	select {
	case sig := <-sigChan:
		logger.InfoContext(ctx, "received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.InfoContext(ctx, "context cancelled, shutting down")
	}
	ready.Store(false)
	logger.Info("shutdown complete")
	return nil
}

func stopObservability(s ObservabilityServer, logger *slog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// registerBuildInfo exposes the running version as a constant gauge.
func registerBuildInfo(reg prometheus.Registerer) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "gatekeeper_build_info",
		Help:        "Build information of the running gatekeeper",
		ConstLabels: prometheus.Labels{"version": version, "commit": commit},
	}, func() float64 { return 1 }))
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
