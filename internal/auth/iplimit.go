// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// IPLimiter caps the number of accounts registered from one address.
// Check must run under the same lock as the account creation it guards.
type IPLimiter struct {
	users UserRepository
	limit int
}

// NewIPLimiter creates an IPLimiter. A limit of zero or less disables it.
func NewIPLimiter(users UserRepository, limit int) *IPLimiter {
	return &IPLimiter{users: users, limit: limit}
}

// Check returns an AUTH_IP_LIMIT_EXCEEDED error when ip already owns the
// maximum number of accounts.
func (l *IPLimiter) Check(ctx context.Context, ip string) error {
	if l.limit <= 0 {
		return nil
	}
	count, err := l.users.CountByIP(ctx, ip)
	if err != nil {
		return oops.Code("AUTH_STORE_FAILED").
			With("operation", "count users by ip").
			Wrap(err)
	}
	if count >= l.limit {
		return oops.Code(CodeIPLimitExceeded).
			With("limit", l.limit).
			Errorf("too many accounts registered from this address")
	}
	return nil
}
