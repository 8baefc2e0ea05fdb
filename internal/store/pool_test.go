// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/holomush/gatekeeper/internal/store"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestConnect_MalformedURL(t *testing.T) {
	_, err := store.Connect(context.Background(), "postgres://u:p@localhost:notaport/gk", store.PoolOptions{})
	errutil.AssertErrorCode(t, err, "DB_INVALID_URL")
}

func TestConnect_GivesUpAfterAttempts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := store.Connect(ctx, "postgres://u:p@127.0.0.1:1/gk?connect_timeout=1", store.PoolOptions{
		Attempts:   1,
		Backoff:    time.Millisecond,
		MaxBackoff: time.Millisecond,
	})
	errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
	errutil.AssertErrorContext(t, err, "attempts", 2)
}

func TestDefaultPoolOptions(t *testing.T) {
	opts := store.DefaultPoolOptions()
	assert.Equal(t, uint64(5), opts.Attempts)
	assert.Positive(t, opts.Backoff)
	assert.GreaterOrEqual(t, opts.MaxBackoff, opts.Backoff)
}
