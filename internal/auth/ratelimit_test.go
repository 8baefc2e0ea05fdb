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
	"go.uber.org/goleak"

	"github.com/holomush/gatekeeper/internal/auth"
)

func TestLimiterKeys(t *testing.T) {
	assert.Equal(t, "name:steve", auth.NameKey("Steve"))
	assert.Equal(t, "ip:10.0.0.1", auth.IPKey("10.0.0.1"))
	assert.NotEqual(t, auth.NameKey("10.0.0.1"), auth.IPKey("10.0.0.1"))
}

func TestAttemptLimiter_Defaults(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := auth.NewAttemptLimiter(auth.AttemptLimiterConfig{MaxAttempts: -1})
	defer l.Close()

	assert.False(t, l.Enabled())
	for range 100 {
		l.RecordFailure("name:steve")
	}
	assert.False(t, l.IsExceeded("name:steve"), "disabled limiter never trips")
}

func TestAttemptLimiter_ZeroMaxIsActive(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := auth.NewAttemptLimiter(auth.AttemptLimiterConfig{MaxAttempts: 0})
	defer l.Close()

	assert.True(t, l.Enabled())
	assert.True(t, l.IsExceeded("name:steve"), "a zero maximum allows no attempts")
}

func TestAttemptLimiter_ExceedsAtMax(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	l := auth.NewAttemptLimiter(auth.AttemptLimiterConfig{
		MaxAttempts: 3,
		Window:      10 * time.Second,
		Now:         clock.Now,
	})
	defer l.Close()

	assert.Equal(t, 1, l.RecordFailure("name:steve"))
	assert.Equal(t, 2, l.RecordFailure("name:steve"))
	assert.False(t, l.IsExceeded("name:steve"))
	assert.Equal(t, 3, l.RecordFailure("name:steve"))
	assert.True(t, l.IsExceeded("name:steve"))

	assert.False(t, l.IsExceeded("name:alex"), "keys are independent")
}

func TestAttemptLimiter_WindowExpiry(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	l := auth.NewAttemptLimiter(auth.AttemptLimiterConfig{
		MaxAttempts: 2,
		Window:      10 * time.Second,
		Now:         clock.Now,
	})
	defer l.Close()

	l.RecordFailure("ip:10.0.0.1")
	l.RecordFailure("ip:10.0.0.1")
	require.True(t, l.IsExceeded("ip:10.0.0.1"))

	clock.Advance(10 * time.Second)
	assert.True(t, l.IsExceeded("ip:10.0.0.1"), "window is inclusive of its end")

	clock.Advance(time.Millisecond)
	assert.False(t, l.IsExceeded("ip:10.0.0.1"))
	assert.Equal(t, 0, l.Count("ip:10.0.0.1"))
	assert.Equal(t, 1, l.RecordFailure("ip:10.0.0.1"), "new window starts from one")
}

func TestAttemptLimiter_WindowAnchoredAtFirstFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	l := auth.NewAttemptLimiter(auth.AttemptLimiterConfig{
		MaxAttempts: 5,
		Window:      10 * time.Second,
		Now:         clock.Now,
	})
	defer l.Close()

	l.RecordFailure("name:steve")
	clock.Advance(8 * time.Second)
	l.RecordFailure("name:steve")
	clock.Advance(3 * time.Second)

	assert.Equal(t, 0, l.Count("name:steve"), "later failures do not extend the window")
}

func TestAttemptLimiter_Reset(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := auth.NewAttemptLimiter(auth.AttemptLimiterConfig{MaxAttempts: 1})
	defer l.Close()

	l.RecordFailure("name:steve")
	require.True(t, l.IsExceeded("name:steve"))

	l.Reset("name:steve")
	assert.False(t, l.IsExceeded("name:steve"))
	assert.Equal(t, 0, l.Len())
}

func TestAttemptLimiter_Cleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	reg := prometheus.NewRegistry()
	l := auth.NewAttemptLimiterWithRegistry(auth.AttemptLimiterConfig{
		MaxAttempts: 3,
		Window:      time.Second,
		Now:         clock.Now,
	}, reg)
	defer l.Close()

	l.RecordFailure("name:a")
	l.RecordFailure("name:b")
	clock.Advance(500 * time.Millisecond)
	l.RecordFailure("name:c")

	l.Cleanup()
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "gatekeeper_login_attempt_keys"))

	clock.Advance(600 * time.Millisecond)
	l.Cleanup()
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 1, l.Count("name:c"))
}

func TestAttemptLimiter_CloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := auth.NewAttemptLimiter(auth.AttemptLimiterConfig{CleanupInterval: time.Millisecond})
	l.Close()
	l.Close()
}
