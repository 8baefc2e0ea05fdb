// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Issue stores session, replacing any previous session for the same user.
func (r *SessionRepository) Issue(ctx context.Context, session *auth.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO gatekeeper_sessions (id, user_id, token_hash, ip, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			id = EXCLUDED.id,
			token_hash = EXCLUDED.token_hash,
			ip = EXCLUDED.ip,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`,
		session.ID.String(),
		session.UserID.String(),
		session.TokenHash,
		session.IP,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err != nil {
		return oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "upsert session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByUser retrieves the session for userID.
func (r *SessionRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*auth.Session, error) {
	var (
		idStr     string
		userIDStr string
		s         auth.Session
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, ip, expires_at, created_at
		FROM gatekeeper_sessions
		WHERE user_id = $1
	`, userID.String()).Scan(&idStr, &userIDStr, &s.TokenHash, &s.IP, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_USER_FAILED").
			With("operation", "get session by user").
			With("user_id", userID.String()).
			Wrap(err)
	}

	if s.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_PARSE_FAILED").With("session_id", idStr).Wrap(err)
	}
	if s.UserID, err = uuid.Parse(userIDStr); err != nil {
		return nil, oops.Code("SESSION_PARSE_FAILED").With("user_id", userIDStr).Wrap(err)
	}
	return &s, nil
}

// Invalidate removes the session for userID.
func (r *SessionRepository) Invalidate(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM gatekeeper_sessions WHERE user_id = $1`, userID.String())
	if err != nil {
		return oops.Code("SESSION_INVALIDATE_FAILED").
			With("operation", "delete session").
			With("user_id", userID.String()).
			Wrap(err)
	}
	// Note: No ErrNotFound if no rows deleted - that's a valid state
	return nil
}

// DeleteExpired removes sessions expired at now and returns the count.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM gatekeeper_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
