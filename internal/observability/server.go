// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability serves the gatekeeper's Prometheus metrics and
// health probes on a side HTTP listener.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// Probe paths.
const (
	MetricsPath   = "/metrics"
	LivenessPath  = "/healthz/liveness"
	ReadinessPath = "/healthz/readiness"
)

// ReadinessChecker reports whether the authenticator accepts principals.
// A nil checker is always ready.
type ReadinessChecker func() bool

// RegisterFunc adds collectors to the server's registry.
type RegisterFunc func(prometheus.Registerer)

// Server exposes a private metrics registry and the health probes.
type Server struct {
	addr     string
	registry *prometheus.Registry
	ready    ReadinessChecker
	handler  http.Handler

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

// NewServer builds a server for addr ("host:port"; port 0 picks one).
// The registry starts with the Go runtime and process collectors, then
// each register func runs once against it.
func NewServer(addr string, ready ReadinessChecker, register ...RegisterFunc) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, fn := range register {
		fn(registry)
	}

	s := &Server{addr: addr, registry: registry, ready: ready}
	s.handler = s.routes()
	return s
}

// Registry returns the registry served on MetricsPath.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the HTTP handler without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	metrics := promhttp.InstrumentMetricHandler(s.registry,
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			Registry:          s.registry,
			EnableOpenMetrics: true,
		}))

	mux := http.NewServeMux()
	mux.Handle(MetricsPath, metrics)
	mux.HandleFunc(LivenessPath, func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, true)
	})
	mux.HandleFunc(ReadinessPath, func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, s.ready == nil || s.ready())
	})
	return mux
}

func writeProbe(w http.ResponseWriter, ok bool) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n")) //nolint:errcheck // probe client may be gone
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n")) //nolint:errcheck // probe client may be gone
}

// Start binds the listener and serves in the background. The returned
// channel yields a serve failure, if any, and is closed once serving ends.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil, oops.Code("OBSERVABILITY_ALREADY_RUNNING").With("addr", s.Addr()).
			Errorf("observability server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.ln, s.srv = ln, srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("observability server failed", "addr", ln.Addr().String(), "error", err)
			errCh <- err
		}
	}()
	return errCh, nil
}

// Stop shuts the listener down, waiting for in-flight scrapes until ctx
// ends. Stopping a server that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return oops.Code("OBSERVABILITY_SHUTDOWN_FAILED").With("addr", s.Addr()).Wrap(err)
	}
	s.srv = nil
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
