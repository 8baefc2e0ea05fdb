// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// State is where a principal is in the authentication flow.
type State int

// Flow states.
const (
	StateUnauthenticated State = iota
	StateAwaitingPassword
	StateAwaitingRegistration
	StateAwaiting2FA
	StateAuthenticated
	StateKicked
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAwaitingPassword:
		return "AWAITING_PASSWORD"
	case StateAwaitingRegistration:
		return "AWAITING_REGISTRATION"
	case StateAwaiting2FA:
		return "AWAITING_2FA"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateKicked:
		return "KICKED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateKicked
}

// Identity is what the host knows about a connecting principal.
type Identity struct {
	// Handle is the host's stable connection identifier.
	Handle string
	// Name is the claimed display name.
	Name string
	// PremiumID is set when the host verified the principal against the
	// upstream identity authority.
	PremiumID *uuid.UUID
	// IP is the source address.
	IP string
	// SessionToken is a token from a previous authentication, if any.
	SessionToken string
}

// Premium reports whether the host verified this principal.
func (i Identity) Premium() bool {
	return i.PremiumID != nil
}

// Kicker disconnects principals. Implemented by the host.
type Kicker interface {
	Kick(handle, messageKey string)
}

// KickerFunc adapts a function to Kicker.
type KickerFunc func(handle, messageKey string)

// Kick calls f.
func (f KickerFunc) Kick(handle, messageKey string) { f(handle, messageKey) }

// Flow is one principal's authentication state. Operations on a Flow run
// one at a time; a second submission waits for the first.
type Flow struct {
	identity Identity

	// sem admits one operation at a time.
	sem chan struct{}

	// ctx is cancelled on kick or disconnect.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	user         *User
	kickReason   string
	totpFailures int
	sessionToken string
	timer        *time.Timer
}

func newFlow(id Identity) *Flow {
	ctx, cancel := context.WithCancel(context.Background())
	return &Flow{
		identity: id,
		sem:      make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateUnauthenticated,
	}
}

// Identity returns the principal's identity.
func (f *Flow) Identity() Identity {
	return f.identity
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// User returns a copy of the record the flow is bound to, or nil.
func (f *Flow) User() *User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return nil
	}
	return f.user.Clone()
}

// KickReason returns the message key the flow was kicked with.
func (f *Flow) KickReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kickReason
}

// SessionToken returns the plaintext token issued on authentication, if any.
func (f *Flow) SessionToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionToken
}

// Done is closed when the flow is kicked or disconnected.
func (f *Flow) Done() <-chan struct{} {
	return f.ctx.Done()
}

// acquire admits one operation and binds ctx to the flow's lifetime.
func (f *Flow) acquire(ctx context.Context) (context.Context, func(), error) {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, oops.Code("AUTH_CANCELLED").Wrap(ctx.Err())
	case <-f.ctx.Done():
		return nil, nil, oops.Code(CodeKicked).Errorf("connection closed")
	}

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(f.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
		<-f.sem
	}, nil
}

// expect returns an error unless the flow is in one of states.
func (f *Flow) expect(states ...State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range states {
		if f.state == s {
			return nil
		}
	}
	if f.state == StateKicked {
		return oops.Code(CodeKicked).Errorf("connection closed")
	}
	if f.state == StateAuthenticated {
		return oops.Code(CodeWrongState).With("state", f.state.String()).Errorf("already authenticated")
	}
	return oops.Code(CodeUnauthorized).With("state", f.state.String()).Errorf("not authenticated")
}

// transition moves to state with user unless the flow was kicked meanwhile.
func (f *Flow) transition(state State, user *User) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateKicked {
		return false
	}
	f.state = state
	if user != nil {
		f.user = user.Clone()
	}
	if state == StateAuthenticated && f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	return true
}

func (f *Flow) setSessionToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionToken = token
}

func (f *Flow) userID() (uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return uuid.Nil, false
	}
	return f.user.ID, true
}

func (f *Flow) userName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return f.identity.Name
	}
	return f.user.LastNickname
}

// recordTOTPFailure increments the per-connection wrong-code counter.
func (f *Flow) recordTOTPFailure() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totpFailures++
	return f.totpFailures
}

// armTimer kicks through fire after d unless the flow authenticates first.
func (f *Flow) armTimer(d time.Duration, fire func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(d, fire)
}

// expire terminates the flow unless it authenticated in the meantime.
func (f *Flow) expire(reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateAuthenticated {
		return false
	}
	return f.terminateLocked(reason)
}

// terminate marks the flow kicked. It returns false if it already was.
func (f *Flow) terminate(reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminateLocked(reason)
}

func (f *Flow) terminateLocked(reason string) bool {
	if f.state == StateKicked {
		return false
	}
	f.state = StateKicked
	f.kickReason = reason
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.cancel()
	return true
}
