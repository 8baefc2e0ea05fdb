// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Attempt limiter defaults.
const (
	// DefaultAttemptWindow matches milliseconds-to-refresh-login-attempts.
	DefaultAttemptWindow = 10 * time.Second

	// DefaultAttemptCleanupInterval is how often expired records are dropped.
	DefaultAttemptCleanupInterval = time.Minute
)

// NameKey is the limiter key for a display name.
func NameKey(name string) string {
	return "name:" + strings.ToLower(name)
}

// IPKey is the limiter key for a source address.
func IPKey(ip string) string {
	return "ip:" + ip
}

// AttemptLimiterConfig configures the login-attempt limiter.
type AttemptLimiterConfig struct {
	// MaxAttempts is the failure count at which a key is exceeded.
	// Negative disables limiting. Zero trips on the first check.
	MaxAttempts int

	// Window is how long a record lives after its first failure.
	// Defaults to DefaultAttemptWindow if zero or negative.
	Window time.Duration

	// CleanupInterval is the interval at which background cleanup runs.
	// Defaults to DefaultAttemptCleanupInterval if zero or negative.
	CleanupInterval time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// attemptRecord counts failures since windowStart.
type attemptRecord struct {
	count       int
	windowStart time.Time
}

// AttemptLimiter tracks failed logins per name and per IP. Records expire
// once the window has elapsed since their first failure; expiry is observed
// lazily on access and by a background sweep.
//
// Call Close() to stop the background goroutine.
type AttemptLimiter struct {
	mu          sync.Mutex
	records     map[string]*attemptRecord
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Metrics gauge for tracked keys (nil if no registry provided)
	keysGauge prometheus.Gauge
}

// NewAttemptLimiter creates a limiter and starts its cleanup goroutine.
func NewAttemptLimiter(cfg AttemptLimiterConfig) *AttemptLimiter {
	return newAttemptLimiter(cfg, nil)
}

// NewAttemptLimiterWithRegistry creates a limiter and registers a gauge of
// tracked keys with reg.
func NewAttemptLimiterWithRegistry(cfg AttemptLimiterConfig, reg prometheus.Registerer) *AttemptLimiter {
	return newAttemptLimiter(cfg, reg)
}

func newAttemptLimiter(cfg AttemptLimiterConfig, reg prometheus.Registerer) *AttemptLimiter {
	window := cfg.Window
	if window <= 0 {
		window = DefaultAttemptWindow
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultAttemptCleanupInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &AttemptLimiter{
		records:     make(map[string]*attemptRecord),
		maxAttempts: cfg.MaxAttempts,
		window:      window,
		now:         now,
		stopChan:    make(chan struct{}),
	}

	if reg != nil {
		l.keysGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_login_attempt_keys",
			Help: "Current number of names and addresses with recorded login failures",
		})
		reg.MustRegister(l.keysGauge)
	}

	l.wg.Add(1)
	go l.cleanupLoop(cleanupInterval)

	return l
}

// Enabled reports whether a maximum is configured.
func (l *AttemptLimiter) Enabled() bool {
	return l.maxAttempts >= 0
}

// RecordFailure counts a failure for key and returns the count in the
// current window.
func (l *AttemptLimiter) RecordFailure(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec := l.liveRecord(key, now)
	if rec == nil {
		rec = &attemptRecord{windowStart: now}
		l.records[key] = rec
	}
	rec.count++
	return rec.count
}

// IsExceeded reports whether key has reached the maximum within its window.
func (l *AttemptLimiter) IsExceeded(key string) bool {
	if !l.Enabled() {
		return false
	}
	return l.Count(key) >= l.maxAttempts
}

// Count returns the failures recorded for key in the current window.
func (l *AttemptLimiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.liveRecord(key, l.now())
	if rec == nil {
		return 0
	}
	return rec.count
}

// Reset forgets key.
func (l *AttemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key)
}

// Len returns the number of tracked keys.
func (l *AttemptLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// liveRecord returns the record for key, dropping it if its window has
// elapsed. Caller must hold l.mu.
func (l *AttemptLimiter) liveRecord(key string, now time.Time) *attemptRecord {
	rec, ok := l.records[key]
	if !ok {
		return nil
	}
	if now.Sub(rec.windowStart) > l.window {
		delete(l.records, key)
		return nil
	}
	return rec
}

// Cleanup removes every record whose window has elapsed.
func (l *AttemptLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, rec := range l.records {
		if now.Sub(rec.windowStart) > l.window {
			delete(l.records, key)
		}
	}

	if l.keysGauge != nil {
		l.keysGauge.Set(float64(len(l.records)))
	}
}

func (l *AttemptLimiter) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Close stops the background cleanup goroutine and blocks until it exits.
// It is safe to call more than once.
func (l *AttemptLimiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}
