// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-process user and session stores. They back
// tests and single-node deployments that do not need persistence.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// UserStore is an in-memory auth.UserRepository. Returned users are copies.
type UserStore struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*auth.User
	byName    map[string]uuid.UUID
	byPremium map[uuid.UUID]uuid.UUID
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:      make(map[uuid.UUID]*auth.User),
		byName:    make(map[string]uuid.UUID),
		byPremium: make(map[uuid.UUID]uuid.UUID),
	}
}

// GetByName retrieves a user by nickname (case-insensitive).
func (s *UserStore) GetByName(_ context.Context, name string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
	}
	return s.byID[id].Clone(), nil
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(_ context.Context, id uuid.UUID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return u.Clone(), nil
}

// GetByPremiumID retrieves the user bound to premiumID.
func (s *UserStore) GetByPremiumID(_ context.Context, premiumID uuid.UUID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPremium[premiumID]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("premium_id", premiumID.String()).Wrap(auth.ErrNotFound)
	}
	return s.byID[id].Clone(), nil
}

// Create stores a new user.
func (s *UserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[user.ID]; ok {
		return conflict("id", user.ID.String())
	}
	if _, ok := s.byName[strings.ToLower(user.LastNickname)]; ok {
		return conflict("name", user.LastNickname)
	}
	if user.PremiumID != nil {
		if _, ok := s.byPremium[*user.PremiumID]; ok {
			return conflict("premium_id", user.PremiumID.String())
		}
	}
	s.put(user.Clone())
	return nil
}

// Update replaces a stored user. Renames and premium rebinding keep the
// secondary indexes unique.
func (s *UserStore) Update(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	if id, ok := s.byName[strings.ToLower(user.LastNickname)]; ok && id != user.ID {
		return conflict("name", user.LastNickname)
	}
	if user.PremiumID != nil {
		if id, ok := s.byPremium[*user.PremiumID]; ok && id != user.ID {
			return conflict("premium_id", user.PremiumID.String())
		}
	}
	s.drop(old)
	s.put(user.Clone())
	return nil
}

// Delete removes a user.
func (s *UserStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	s.drop(u)
	return nil
}

// Replace swaps the user oldID for user under one lock.
func (s *UserStore) Replace(_ context.Context, oldID uuid.UUID, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[oldID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", oldID.String()).Wrap(auth.ErrNotFound)
	}
	if _, ok := s.byID[user.ID]; ok && user.ID != oldID {
		return conflict("id", user.ID.String())
	}
	if id, ok := s.byName[strings.ToLower(user.LastNickname)]; ok && id != oldID {
		return conflict("name", user.LastNickname)
	}
	if user.PremiumID != nil {
		if id, ok := s.byPremium[*user.PremiumID]; ok && id != oldID {
			return conflict("premium_id", user.PremiumID.String())
		}
	}
	s.drop(old)
	s.put(user.Clone())
	return nil
}

// CountByIP returns the number of users whose last address is ip.
func (s *UserStore) CountByIP(_ context.Context, ip string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.byID {
		if u.IP == ip {
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored users.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *UserStore) put(u *auth.User) {
	s.byID[u.ID] = u
	s.byName[strings.ToLower(u.LastNickname)] = u.ID
	if u.PremiumID != nil {
		s.byPremium[*u.PremiumID] = u.ID
	}
}

func (s *UserStore) drop(u *auth.User) {
	delete(s.byID, u.ID)
	delete(s.byName, strings.ToLower(u.LastNickname))
	if u.PremiumID != nil {
		delete(s.byPremium, *u.PremiumID)
	}
}

func conflict(field, value string) error {
	return oops.Code("USER_ALREADY_EXISTS").With(field, value).Wrap(auth.ErrAlreadyExists)
}

// SessionStore is an in-memory auth.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]auth.Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uuid.UUID]auth.Session)}
}

// Issue stores session, replacing the user's previous one.
func (s *SessionStore) Issue(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.UserID] = *session
	return nil
}

// GetByUser retrieves the session for userID.
func (s *SessionStore) GetByUser(_ context.Context, userID uuid.UUID) (*auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[userID]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	return &session, nil
}

// Invalidate removes the session for userID.
func (s *SessionStore) Invalidate(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

// DeleteExpired removes sessions expired at now.
func (s *SessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if session.IsExpiredAt(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var (
	_ auth.UserRepository    = (*UserStore)(nil)
	_ auth.SessionRepository = (*SessionStore)(nil)
)
