// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func stopOnCleanup(t *testing.T, s *Server) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
}

func TestServer_Probes(t *testing.T) {
	var ready atomic.Bool
	h := NewServer("127.0.0.1:0", ready.Load).Handler()

	code, body := get(t, h, LivenessPath)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, body = get(t, h, ReadinessPath)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready\n", body)

	ready.Store(true)
	code, _ = get(t, h, ReadinessPath)
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_NilCheckerIsReady(t *testing.T) {
	code, _ := get(t, NewServer("127.0.0.1:0", nil).Handler(), ReadinessPath)
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_MetricsServesRegisteredCollectors(t *testing.T) {
	flows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatekeeper_test_flows",
		Help: "Flows by state",
	}, []string{"state"})

	calls := 0
	s := NewServer("127.0.0.1:0", nil, func(reg prometheus.Registerer) {
		calls++
		reg.MustRegister(flows)
	})
	require.Equal(t, 1, calls)
	flows.WithLabelValues("awaiting_login").Set(2)

	code, body := get(t, s.Handler(), MetricsPath)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `gatekeeper_test_flows{state="awaiting_login"} 2`)
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "process_")

	// The handler counts its own scrapes once it has served one.
	_, body = get(t, s.Handler(), MetricsPath)
	assert.Contains(t, body, "promhttp_metric_handler_requests_total")
}

func TestServer_RegistryIsPrivate(t *testing.T) {
	a := NewServer("127.0.0.1:0", nil)
	b := NewServer("127.0.0.1:0", nil)
	assert.NotSame(t, a.Registry(), b.Registry())
	assert.NotSame(t, prometheus.DefaultRegisterer, a.Registry())
}

func TestServer_StartServesOverTCP(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	assert.Empty(t, s.Addr())

	_, err := s.Start()
	require.NoError(t, err)
	stopOnCleanup(t, s)
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + LivenessPath)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = s.Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_ALREADY_RUNNING")
}

func TestServer_StartListenFailure(t *testing.T) {
	taken := NewServer("127.0.0.1:0", nil)
	_, err := taken.Start()
	require.NoError(t, err)
	stopOnCleanup(t, taken)

	_, err = NewServer(taken.Addr(), nil).Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_LISTEN_FAILED")
}

func TestServer_StopAndRestart(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	require.NoError(t, s.Stop(context.Background()), "stopping an idle server is a no-op")

	errCh, err := s.Start()
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))

	select {
	case err, ok := <-errCh:
		assert.False(t, ok && err != nil, "graceful stop reports no error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel was not closed on stop")
	}

	_, err = s.Start()
	require.NoError(t, err, "a stopped server can start again")
	stopOnCleanup(t, s)
}

func TestServer_ServeFailureReachesChannel(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	errCh, err := s.Start()
	require.NoError(t, err)
	stopOnCleanup(t, s)

	require.NoError(t, s.ln.Close())

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve failure was not reported")
	}
}
