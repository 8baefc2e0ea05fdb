// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTokenBytes is the size of a session token before hex encoding.
const SessionTokenBytes = 32

// Session is proof of a prior successful authentication. Only the token hash
// is stored; the plaintext token goes to the host.
type Session struct {
	ID        ulid.ULID
	UserID    uuid.UUID
	TokenHash string
	IP        string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewSession creates a validated Session.
func NewSession(userID uuid.UUID, tokenHash, ip string, createdAt, expiresAt time.Time) (*Session, error) {
	if userID == uuid.Nil {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be nil")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry must be after creation")
	}
	return &Session{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		IP:        ip,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Resumable reports whether token presented from ip at now may skip
// authentication.
func (s *Session) Resumable(token, ip string, now time.Time) bool {
	if s.IsExpiredAt(now) || s.IP != ip {
		return false
	}
	ok, err := VerifySessionToken(token, s.TokenHash)
	return err == nil && ok
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifySessionToken checks if the plaintext token matches the stored hash
// in constant time.
func VerifySessionToken(token, hash string) (bool, error) {
	if token == "" {
		return false, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}
	if hash == "" {
		return false, oops.Code("SESSION_HASH_EMPTY").Errorf("stored hash cannot be empty")
	}
	computed := HashSessionToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1, nil
}

// SessionRepository manages session persistence. A user has at most one
// live session.
type SessionRepository interface {
	// Issue stores session, replacing any existing session for the same user.
	Issue(ctx context.Context, session *Session) error

	// GetByUser retrieves the session for a user.
	GetByUser(ctx context.Context, userID uuid.UUID) (*Session, error)

	// Invalidate removes the session for a user. Removing a missing session
	// is not an error.
	Invalidate(ctx context.Context, userID uuid.UUID) error

	// DeleteExpired removes sessions expired at now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
