// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Authentication methods for metrics.
const (
	MethodPassword = "password"
	MethodTOTP     = "totp"
	MethodSession  = "session"
	MethodPremium  = "premium"
	MethodRegister = "register"
)

// Outcome labels for metrics.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// AuthAttempts counts authentication attempts by method and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var AuthAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_auth_attempts_total",
		Help: "Total number of authentication attempts",
	},
	[]string{"method", "outcome"},
)

// AuthDuration observes how long each authentication step took.
var AuthDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gatekeeper_auth_duration_seconds",
		Help:    "Authentication step duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method"},
)

// Kicks counts forced disconnects by message key.
var Kicks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_kicks_total",
		Help: "Total number of principals disconnected by the authenticator",
	},
	[]string{"reason"},
)

// ProfileConflicts counts resolved premium/offline name collisions.
var ProfileConflicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_profile_conflicts_total",
		Help: "Total number of premium/offline profile conflicts",
	},
	[]string{"strategy"},
)

// RegisterMetrics registers auth metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AuthAttempts)
	reg.MustRegister(AuthDuration)
	reg.MustRegister(Kicks)
	reg.MustRegister(ProfileConflicts)
}

// RecordAttempt increments the attempt counter and observes duration.
func RecordAttempt(method, outcome string, duration time.Duration) {
	AuthAttempts.WithLabelValues(method, outcome).Inc()
	AuthDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordKick increments the kick counter.
func RecordKick(reason string) {
	Kicks.WithLabelValues(reason).Inc()
}

// RecordProfileConflict increments the conflict counter.
func RecordProfileConflict(strategy ConflictStrategy) {
	ProfileConflicts.WithLabelValues(string(strategy)).Inc()
}
