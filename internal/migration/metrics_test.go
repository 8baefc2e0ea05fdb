// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { RegisterMetrics(reg) })
	assert.Panics(t, func() { RegisterMetrics(reg) }, "double registration must panic")
}

func TestRecordReport(t *testing.T) {
	const typ = "metrics-test"
	r := sampleReport()
	r.Type = typ

	recordReport(r)
	assert.InDelta(t, 1, testutil.ToFloat64(Records.WithLabelValues(typ, OutcomeMigrated)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(Records.WithLabelValues(typ, OutcomeSkipped)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(Records.WithLabelValues(typ, OutcomeConflict)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(Runs.WithLabelValues(typ, "success")), 0)

	r.Aborted = "boom"
	recordReport(r)
	assert.InDelta(t, 1, testutil.ToFloat64(Runs.WithLabelValues(typ, "aborted")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(Records.WithLabelValues(typ, OutcomeMigrated)), 0)
}
