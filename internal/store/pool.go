// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the canonical user store's PostgreSQL schema and
// connection pool.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolOptions tunes Connect.
type PoolOptions struct {
	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
	// Attempts is how many times a failed ping is retried.
	Attempts uint64
	// Backoff is the first retry delay; later delays grow exponentially.
	Backoff time.Duration
	// MaxBackoff caps a single retry delay.
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// DefaultPoolOptions returns the options Connect uses for zero fields.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		Attempts:   5,
		Backoff:    250 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
	}
}

// Connect opens a pgx pool on databaseURL and waits until the server answers
// a ping, retrying with exponential backoff. A malformed URL fails at once.
func Connect(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	defaults := DefaultPoolOptions()
	if opts.Backoff <= 0 {
		opts.Backoff = defaults.Backoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaults.MaxBackoff
	}
	if opts.Attempts == 0 {
		opts.Attempts = defaults.Attempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_INVALID_URL").With("operation", "parse database url").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithCappedDuration(opts.MaxBackoff, retry.NewExponential(opts.Backoff))
	backoff = retry.WithMaxRetries(opts.Attempts, backoff)

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready",
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}
