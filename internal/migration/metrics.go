// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Record outcomes for metrics.
const (
	OutcomeMigrated = "migrated"
	OutcomeSkipped  = "skipped"
	OutcomeConflict = "conflict"
)

// Records counts processed legacy rows by migration type and outcome.
var Records = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_migration_records_total",
		Help: "Total number of legacy rows processed by the migration engine",
	},
	[]string{"type", "outcome"},
)

// Runs counts migration runs by type and result.
var Runs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_migration_runs_total",
		Help: "Total number of migration runs",
	},
	[]string{"type", "result"},
)

// RegisterMetrics registers migration metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Records)
	reg.MustRegister(Runs)
}

func recordReport(r *Report) {
	Records.WithLabelValues(r.Type, OutcomeMigrated).Add(float64(r.Migrated))
	Records.WithLabelValues(r.Type, OutcomeSkipped).Add(float64(len(r.Skipped)))
	Records.WithLabelValues(r.Type, OutcomeConflict).Add(float64(len(r.Conflicts)))
	result := "success"
	if r.Aborted != "" {
		result = "aborted"
	}
	Runs.WithLabelValues(r.Type, result).Inc()
}
