// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// ConflictStrategy decides ownership when a premium principal's name
// collides with an offline account.
type ConflictStrategy string

// Conflict strategies.
const (
	// ConflictBlock disconnects both principals and changes nothing.
	ConflictBlock ConflictStrategy = "BLOCK"
	// ConflictUseOffline makes the premium principal log in with the
	// offline account's password.
	ConflictUseOffline ConflictStrategy = "USE_OFFLINE"
	// ConflictOverwrite deletes the offline account and replaces it with
	// one bound to the premium identity.
	ConflictOverwrite ConflictStrategy = "OVERWRITE"
)

// Valid reports whether s is a known strategy.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case ConflictBlock, ConflictUseOffline, ConflictOverwrite:
		return true
	default:
		return false
	}
}

// KickNameMismatch is the message key used when a conflict blocks a login.
const KickNameMismatch = "kick-name-mismatch"

// ConflictOutcome is the result of resolving a conflict.
type ConflictOutcome int

// Conflict outcomes.
const (
	ConflictBlocked ConflictOutcome = iota
	ConflictLoginOffline
	ConflictOverwritten
)

// Resolution tells the caller how the premium principal proceeds.
type Resolution struct {
	Outcome ConflictOutcome
	// User is the record the premium principal continues with: the offline
	// record for ConflictLoginOffline, the new record for ConflictOverwritten,
	// nil when blocked.
	User *User
}

// PremiumClaim is a verified premium identity claiming a display name.
type PremiumClaim struct {
	Name      string
	PremiumID uuid.UUID
	IP        string
}

// ConflictResolver applies the configured ConflictStrategy. The caller must
// hold the lock for the contested name across detection and Resolve.
type ConflictResolver struct {
	strategy ConflictStrategy
	users    UserRepository
	sessions SessionRepository
	creator  UUIDCreator
	logger   *slog.Logger
	now      func() time.Time
}

// NewConflictResolver creates a resolver. A nil logger discards output and
// a nil now uses time.Now.
func NewConflictResolver(
	strategy ConflictStrategy,
	users UserRepository,
	sessions SessionRepository,
	creator UUIDCreator,
	logger *slog.Logger,
	now func() time.Time,
) (*ConflictResolver, error) {
	if !strategy.Valid() {
		return nil, oops.Code("AUTH_INVALID_STRATEGY").
			With("strategy", string(strategy)).
			Errorf("unknown profile conflict strategy %q", strategy)
	}
	if users == nil || sessions == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("conflict resolver requires user and session repositories")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if now == nil {
		now = time.Now
	}
	return &ConflictResolver{
		strategy: strategy,
		users:    users,
		sessions: sessions,
		creator:  creator,
		logger:   logger,
		now:      now,
	}, nil
}

// Strategy returns the configured strategy.
func (r *ConflictResolver) Strategy() ConflictStrategy {
	return r.strategy
}

// Resolve decides between claim and the colliding offline record.
func (r *ConflictResolver) Resolve(ctx context.Context, claim PremiumClaim, offline *User) (Resolution, error) {
	RecordProfileConflict(r.strategy)

	switch r.strategy {
	case ConflictUseOffline:
		return Resolution{Outcome: ConflictLoginOffline, User: offline.Clone()}, nil

	case ConflictOverwrite:
		return r.overwrite(ctx, claim, offline)

	default:
		r.logger.InfoContext(ctx, "profile conflict blocked",
			"event", "profile_conflict_blocked",
			"name", claim.Name,
			"offline_id", offline.ID.String(),
			"premium_id", claim.PremiumID.String())
		return Resolution{Outcome: ConflictBlocked}, nil
	}
}

func (r *ConflictResolver) overwrite(ctx context.Context, claim PremiumClaim, offline *User) (Resolution, error) {
	if err := r.sessions.Invalidate(ctx, offline.ID); err != nil {
		return Resolution{}, oops.Code("AUTH_STORE_FAILED").
			With("operation", "invalidate offline session").
			With("user_id", offline.ID.String()).
			Wrap(err)
	}

	premiumID := claim.PremiumID
	user, err := NewUser(r.creator.NewID(claim.Name, &premiumID), claim.Name, claim.IP, r.now())
	if err != nil {
		return Resolution{}, err
	}
	user.PremiumID = &premiumID
	user.Premium = PremiumVerified

	if err := r.users.Replace(ctx, offline.ID, user); err != nil {
		return Resolution{}, oops.Code("AUTH_STORE_FAILED").
			With("operation", "replace offline user").
			With("user_id", offline.ID.String()).
			With("name", claim.Name).
			Wrap(err)
	}

	r.logger.WarnContext(ctx, "offline profile overwritten by premium profile",
		"event", "profile_overwrite",
		"name", claim.Name,
		"offline_id", offline.ID.String(),
		"new_id", user.ID.String(),
		"premium_id", premiumID.String())

	return Resolution{Outcome: ConflictOverwritten, User: user}, nil
}
