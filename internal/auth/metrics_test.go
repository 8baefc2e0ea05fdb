// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { auth.RegisterMetrics(reg) })
	assert.Panics(t, func() { auth.RegisterMetrics(reg) }, "double registration panics")
}

func TestRecordAttempt(t *testing.T) {
	counter := auth.AuthAttempts.WithLabelValues(auth.MethodTOTP, auth.OutcomeFailure)
	before := testutil.ToFloat64(counter)

	auth.RecordAttempt(auth.MethodTOTP, auth.OutcomeFailure, 5*time.Millisecond)

	assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0.001)
}

func TestRecordKick(t *testing.T) {
	counter := auth.Kicks.WithLabelValues("kick-test-metric")
	before := testutil.ToFloat64(counter)

	auth.RecordKick("kick-test-metric")
	auth.RecordKick("kick-test-metric")

	assert.InDelta(t, before+2, testutil.ToFloat64(counter), 0.001)
}

func TestRecordProfileConflict(t *testing.T) {
	counter := auth.ProfileConflicts.WithLabelValues(string(auth.ConflictUseOffline))
	before := testutil.ToFloat64(counter)

	auth.RecordProfileConflict(auth.ConflictUseOffline)

	assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0.001)
}
