// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/hashing"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Message keys the authenticator kicks with.
const (
	KickTimeLimit          = "kick-time-limit"
	KickWrongPassword      = "kick-error-password-wrong"
	KickWrongTOTP          = "kick-error-totp-wrong"
	KickInvalidCase        = "kick-invalid-case-username"
	KickIllegalUsername    = "kick-illegal-username"
	KickPremiumEnabled     = "kick-premium-info-enabled"
	KickPremiumDisabled    = "kick-premium-info-disabled"
	KickLoggedOut          = "info-logged-out"
	kickReasonDisconnected = "disconnected"
)

// Settings are the authentication policy values.
type Settings struct {
	ConflictStrategy ConflictStrategy
	// MaxLoginAttempts below zero disables the attempt limiter.
	MaxLoginAttempts int
	AttemptWindow    time.Duration
	// SessionTimeout of zero disables session persistence.
	SessionTimeout time.Duration
	// IPLimit of zero or less disables the per-address account cap.
	IPLimit int
	// Minimum lengths are ignored when not positive.
	MinPasswordLength int
	MinUsernameLength int
	// AuthorizeTimeout bounds time spent unauthenticated; negative is unlimited.
	AuthorizeTimeout time.Duration
	AutoRegister     bool
	UUIDCreator      UUIDCreator
	AllowedCommands  []string
	TwoFactor        TwoFactorConfig
}

// DefaultSettings returns the out-of-the-box policy.
func DefaultSettings() Settings {
	return Settings{
		ConflictStrategy:  ConflictBlock,
		MaxLoginAttempts:  -1,
		AttemptWindow:     DefaultAttemptWindow,
		IPLimit:           -1,
		MinPasswordLength: -1,
		MinUsernameLength: -1,
		AuthorizeTimeout:  -1,
		UUIDCreator:       UUIDCracked,
		AllowedCommands:   DefaultAllowedCommands,
		TwoFactor:         DefaultTwoFactorConfig(),
	}
}

// Deps are the authenticator's collaborators.
type Deps struct {
	Users    UserRepository
	Sessions SessionRepository
	Hashing  *hashing.Registry
	// Kicker disconnects principals. Optional.
	Kicker Kicker
	// Logger defaults to a discard logger.
	Logger *slog.Logger
	// Registerer receives the limiter gauge. Optional.
	Registerer prometheus.Registerer
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Authenticator runs the per-principal authentication flow. It is safe for
// concurrent use; flows for different principals never wait on each other
// except where they contend for the same name or address.
type Authenticator struct {
	users     UserRepository
	sessions  SessionRepository
	hashing   *hashing.Registry
	kicker    Kicker
	logger    *slog.Logger
	now       func() time.Time
	settings  Settings
	attempts  *AttemptLimiter
	ipLimit   *IPLimiter
	resolver  *ConflictResolver
	twoFactor *TwoFactor
	allowed   *CommandAllowList
	locks     *keyLocks

	mu    sync.Mutex
	flows map[string]*Flow
}

// NewAuthenticator validates deps and settings and starts the attempt
// limiter. Call Close to stop it.
func NewAuthenticator(deps Deps, settings Settings) (*Authenticator, error) {
	if deps.Users == nil || deps.Sessions == nil || deps.Hashing == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").
			Errorf("authenticator requires user store, session store and hashing registry")
	}
	if !settings.UUIDCreator.Valid() {
		return nil, oops.Code("AUTH_INVALID_CONFIG").
			With("uuid_creator", string(settings.UUIDCreator)).
			Errorf("unknown uuid creator %q", settings.UUIDCreator)
	}

	kicker := deps.Kicker
	if kicker == nil {
		kicker = KickerFunc(func(string, string) {})
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	resolver, err := NewConflictResolver(settings.ConflictStrategy, deps.Users, deps.Sessions,
		settings.UUIDCreator, logger, now)
	if err != nil {
		return nil, err
	}
	allowed, err := NewCommandAllowList(settings.AllowedCommands)
	if err != nil {
		return nil, err
	}

	limiterCfg := AttemptLimiterConfig{
		MaxAttempts: settings.MaxLoginAttempts,
		Window:      settings.AttemptWindow,
		Now:         now,
	}
	var attempts *AttemptLimiter
	if deps.Registerer != nil {
		attempts = NewAttemptLimiterWithRegistry(limiterCfg, deps.Registerer)
	} else {
		attempts = NewAttemptLimiter(limiterCfg)
	}

	return &Authenticator{
		users:     deps.Users,
		sessions:  deps.Sessions,
		hashing:   deps.Hashing,
		kicker:    kicker,
		logger:    logger,
		now:       now,
		settings:  settings,
		attempts:  attempts,
		ipLimit:   NewIPLimiter(deps.Users, settings.IPLimit),
		resolver:  resolver,
		twoFactor: NewTwoFactor(settings.TwoFactor, now),
		allowed:   allowed,
		locks:     newKeyLocks(),
		flows:     make(map[string]*Flow),
	}, nil
}

// Close disconnects every flow and stops background work.
func (a *Authenticator) Close() {
	a.mu.Lock()
	flows := make([]*Flow, 0, len(a.flows))
	for _, f := range a.flows {
		flows = append(flows, f)
	}
	a.mu.Unlock()

	for _, f := range flows {
		a.Disconnect(f)
	}
	a.attempts.Close()
}

// Attempts exposes the login-attempt limiter.
func (a *Authenticator) Attempts() *AttemptLimiter {
	return a.attempts
}

// TwoFactor exposes the two-factor engine.
func (a *Authenticator) TwoFactor() *TwoFactor {
	return a.twoFactor
}

// ActiveFlows returns the number of connected principals.
func (a *Authenticator) ActiveFlows() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.flows)
}

// Connect starts a flow for a new principal and routes it to the first
// state. Policy outcomes such as a blocked profile conflict leave the flow
// kicked and return no error.
func (a *Authenticator) Connect(ctx context.Context, id Identity) (*Flow, error) {
	f := newFlow(id)
	a.track(f)

	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return f, err
	}
	defer release()

	ctx = logging.WithAttrs(ctx,
		slog.String("handle", id.Handle),
		slog.String("name", id.Name),
		slog.String("ip", id.IP))

	if err := ValidateUsername(id.Name, 0); err != nil {
		a.logger.DebugContext(ctx, "illegal username", errutil.Attrs(err)...)
		a.kick(f, KickIllegalUsername)
		return f, nil
	}

	if id.Premium() {
		err = a.connectPremium(ctx, f)
	} else {
		err = a.connectOffline(ctx, f)
	}
	if err != nil {
		return f, a.abort(ctx, f, MethodPassword, time.Now(), err)
	}

	a.armAuthorizeTimer(f)
	return f, nil
}

func (a *Authenticator) connectOffline(ctx context.Context, f *Flow) error {
	name := f.identity.Name
	unlock, err := a.locks.Lock(ctx, userKey(name))
	if err != nil {
		return oops.Code("AUTH_CANCELLED").Wrap(err)
	}
	defer unlock()

	user, err := a.findByName(ctx, name)
	if err != nil {
		return err
	}

	switch {
	case user == nil:
		f.transition(StateAwaitingRegistration, nil)
		return nil
	case user.LastNickname != name:
		a.kick(f, KickInvalidCase)
		return nil
	case !user.IsRegistered():
		// Premium-only account; an offline client cannot prove ownership.
		a.kick(f, KickNameMismatch)
		return nil
	}

	resumed, err := a.resumeSession(ctx, f, user)
	if err != nil || resumed {
		return err
	}
	f.transition(StateAwaitingPassword, user)
	return nil
}

func (a *Authenticator) connectPremium(ctx context.Context, f *Flow) error {
	name := f.identity.Name
	premiumID := *f.identity.PremiumID

	keys := []string{userKey(name)}
	if bound, err := a.findByPremiumID(ctx, premiumID); err != nil {
		return err
	} else if bound != nil {
		keys = append(keys, userKey(bound.LastNickname))
	}
	unlock, err := a.locks.Lock(ctx, keys...)
	if err != nil {
		return oops.Code("AUTH_CANCELLED").Wrap(err)
	}
	defer unlock()

	bound, err := a.findByPremiumID(ctx, premiumID)
	if err != nil {
		return err
	}
	byName, err := a.findByName(ctx, name)
	if err != nil {
		return err
	}

	switch {
	case bound != nil:
		if byName != nil && byName.ID != bound.ID {
			a.logger.WarnContext(ctx, "premium rename collides with another account",
				"event", "profile_conflict_rename",
				"user_id", bound.ID.String(),
				"other_id", byName.ID.String())
			a.kick(f, KickNameMismatch)
			return nil
		}
		bound.LastNickname = name
		return a.passGate(ctx, f, bound, MethodPremium)

	case byName == nil:
		if !a.settings.AutoRegister {
			f.transition(StateAwaitingRegistration, nil)
			return nil
		}
		user, err := a.newPremiumUser(name, premiumID, f.identity.IP)
		if err != nil {
			return err
		}
		if err := a.users.Create(ctx, user); err != nil {
			return storeError("create premium user", err)
		}
		a.logger.InfoContext(ctx, "premium user auto-registered", "user_id", user.ID.String())
		return a.authenticate(ctx, f, user, MethodPremium, "")

	case byName.IsPremium():
		a.kick(f, KickNameMismatch)
		return nil
	}

	res, err := a.resolver.Resolve(ctx, PremiumClaim{Name: name, PremiumID: premiumID, IP: f.identity.IP}, byName)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case ConflictOverwritten:
		return a.authenticate(ctx, f, res.User, MethodPremium, "")
	case ConflictLoginOffline:
		if !res.User.IsRegistered() {
			a.kick(f, KickNameMismatch)
			return nil
		}
		f.transition(StateAwaitingPassword, res.User)
		return nil
	default:
		a.kickAllNamed(name, KickNameMismatch)
		return nil
	}
}

func (a *Authenticator) newPremiumUser(name string, premiumID uuid.UUID, ip string) (*User, error) {
	user, err := NewUser(a.settings.UUIDCreator.NewID(name, &premiumID), name, ip, a.now())
	if err != nil {
		return nil, err
	}
	user.PremiumID = &premiumID
	user.Premium = PremiumVerified
	return user, nil
}

// resumeSession authenticates f from a prior session when the token, the
// address and the expiry all check out.
func (a *Authenticator) resumeSession(ctx context.Context, f *Flow, user *User) (bool, error) {
	token := f.identity.SessionToken
	if token == "" || a.settings.SessionTimeout <= 0 {
		return false, nil
	}
	s, err := a.sessions.GetByUser(ctx, user.ID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeError("get session", err)
	}
	if !s.Resumable(token, f.identity.IP, a.now()) {
		return false, nil
	}
	start := time.Now()
	if err := a.authenticate(ctx, f, user, MethodSession, token); err != nil {
		return false, err
	}
	RecordAttempt(MethodSession, OutcomeSuccess, time.Since(start))
	return true, nil
}

// Login checks a password for a principal awaiting one.
func (a *Authenticator) Login(ctx context.Context, f *Flow, password string) error {
	start := time.Now()
	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := f.expect(StateAwaitingPassword, StateAwaitingRegistration); err != nil {
		return err
	}

	nameKey, ipKey := NameKey(f.identity.Name), IPKey(f.identity.IP)
	if a.attempts.IsExceeded(nameKey) || a.attempts.IsExceeded(ipKey) {
		a.kick(f, KickWrongPassword)
		RecordAttempt(MethodPassword, OutcomeRateLimited, time.Since(start))
		return oops.Code(CodeRateLimited).Errorf("too many failed attempts")
	}

	if f.State() == StateAwaitingRegistration {
		a.hashing.VerifyDummy(password)
		return a.loginFailed(ctx, f, nil, start)
	}

	id, _ := f.userID()
	unlock, err := a.locks.Lock(ctx, userKey(f.userName()))
	if err != nil {
		return oops.Code("AUTH_CANCELLED").Wrap(err)
	}
	defer unlock()

	user, err := a.users.GetByID(ctx, id)
	if err != nil {
		return a.abort(ctx, f, MethodPassword, start, storeError("get user", err))
	}
	if !user.IsRegistered() {
		a.hashing.VerifyDummy(password)
		return a.loginFailed(ctx, f, user, start)
	}

	ok, err := a.hashing.Verify(password, *user.Password)
	if err != nil {
		return a.abort(ctx, f, MethodPassword, start, err)
	}
	if !ok {
		return a.loginFailed(ctx, f, user, start)
	}

	a.attempts.Reset(nameKey)
	a.attempts.Reset(ipKey)
	a.rehash(ctx, user, password)

	if err := a.passGate(ctx, f, user, MethodPassword); err != nil {
		return a.abort(ctx, f, MethodPassword, start, err)
	}
	RecordAttempt(MethodPassword, OutcomeSuccess, time.Since(start))
	return nil
}

func (a *Authenticator) loginFailed(ctx context.Context, f *Flow, user *User, start time.Time) error {
	nameKey, ipKey := NameKey(f.identity.Name), IPKey(f.identity.IP)
	a.attempts.RecordFailure(nameKey)
	a.attempts.RecordFailure(ipKey)

	if user != nil {
		user.IP = f.identity.IP
		if err := a.users.Update(ctx, user); err != nil {
			errutil.LogErrorContext(ctx, a.logger, slog.LevelWarn, "failed to record attempt address", err)
		}
	}

	if a.attempts.IsExceeded(nameKey) || a.attempts.IsExceeded(ipKey) {
		a.kick(f, KickWrongPassword)
		RecordAttempt(MethodPassword, OutcomeRateLimited, time.Since(start))
		return oops.Code(CodeRateLimited).Errorf("too many failed attempts")
	}
	RecordAttempt(MethodPassword, OutcomeFailure, time.Since(start))
	return oops.Code(CodeInvalidCredentials).Errorf("invalid username or password")
}

// rehash replaces a hash made by a non-default provider. Failure keeps the
// old hash.
func (a *Authenticator) rehash(ctx context.Context, user *User, password string) {
	if !a.hashing.NeedsRehash(*user.Password) {
		return
	}
	hp, err := a.hashing.Hash(password)
	if err != nil {
		errutil.LogErrorContext(ctx, a.logger, slog.LevelWarn, "password rehash failed", err)
		return
	}
	a.logger.DebugContext(ctx, "password rehashed",
		"from", user.Password.Algorithm,
		"to", hp.Algorithm)
	user.Password = &hp
}

// passGate sends user through 2FA when it is on, otherwise authenticates.
func (a *Authenticator) passGate(ctx context.Context, f *Flow, user *User, method string) error {
	if !user.HasTwoFactor() || !a.twoFactor.Enabled() {
		return a.authenticate(ctx, f, user, method, "")
	}
	user.IP = f.identity.IP
	if err := a.users.Update(ctx, user); err != nil {
		return storeError("update user", err)
	}
	if !f.transition(StateAwaiting2FA, user) {
		return oops.Code(CodeKicked).Errorf("connection closed")
	}
	return nil
}

// authenticate commits a successful authentication: timestamps, session,
// and the AUTHENTICATED state. A non-empty token means an existing session
// is being resumed.
func (a *Authenticator) authenticate(ctx context.Context, f *Flow, user *User, method, token string) error {
	now := a.now()
	user.Touch(f.identity.IP, now)
	if err := a.users.Update(ctx, user); err != nil {
		return storeError("update user", err)
	}

	if token == "" && a.settings.SessionTimeout > 0 {
		plain, hash, err := GenerateSessionToken()
		if err != nil {
			return err
		}
		s, err := NewSession(user.ID, hash, f.identity.IP, now, now.Add(a.settings.SessionTimeout))
		if err != nil {
			return err
		}
		if err := a.sessions.Issue(ctx, s); err != nil {
			return storeError("issue session", err)
		}
		token = plain
	}

	if !f.transition(StateAuthenticated, user) {
		return oops.Code(CodeKicked).Errorf("connection closed")
	}
	f.setSessionToken(token)
	a.logger.InfoContext(ctx, "principal authenticated",
		"method", method,
		"user_id", user.ID.String())
	return nil
}

// Register creates an account for a principal awaiting registration.
// The IP-limit check and the insert run under the address and name locks.
func (a *Authenticator) Register(ctx context.Context, f *Flow, password, confirm string) error {
	start := time.Now()
	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := f.expect(StateAwaitingRegistration); err != nil {
		return err
	}
	if password != confirm {
		return oops.Code(CodePasswordMismatch).Errorf("passwords do not match")
	}

	name, ip := f.identity.Name, f.identity.IP
	if err := ValidateUsername(name, a.settings.MinUsernameLength); err != nil {
		return err
	}
	if err := ValidatePassword(password, a.settings.MinPasswordLength); err != nil {
		return err
	}

	unlock, err := a.locks.Lock(ctx, IPKey(ip), userKey(name))
	if err != nil {
		return oops.Code("AUTH_CANCELLED").Wrap(err)
	}
	defer unlock()

	existing, err := a.findByName(ctx, name)
	if err != nil {
		return a.abort(ctx, f, MethodRegister, start, err)
	}
	if existing != nil {
		RecordAttempt(MethodRegister, OutcomeFailure, time.Since(start))
		return oops.Code(CodeNameTaken).With("name", name).Errorf("name already registered")
	}

	if err := a.ipLimit.Check(ctx, ip); err != nil {
		if errutil.HasCode(err, CodeIPLimitExceeded) {
			RecordAttempt(MethodRegister, OutcomeRateLimited, time.Since(start))
			return err
		}
		return a.abort(ctx, f, MethodRegister, start, err)
	}

	hp, err := a.hashing.Hash(password)
	if err != nil {
		return a.abort(ctx, f, MethodRegister, start, err)
	}

	var user *User
	if f.identity.Premium() {
		user, err = a.newPremiumUser(name, *f.identity.PremiumID, ip)
	} else {
		user, err = NewUser(a.settings.UUIDCreator.NewID(name, nil), name, ip, a.now())
	}
	if err != nil {
		return a.abort(ctx, f, MethodRegister, start, err)
	}
	user.Password = &hp

	if err := a.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			RecordAttempt(MethodRegister, OutcomeFailure, time.Since(start))
			return oops.Code(CodeNameTaken).With("name", name).Errorf("name already registered")
		}
		return a.abort(ctx, f, MethodRegister, start, storeError("create user", err))
	}
	a.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())

	if err := a.authenticate(ctx, f, user, MethodRegister, ""); err != nil {
		return a.abort(ctx, f, MethodRegister, start, err)
	}
	RecordAttempt(MethodRegister, OutcomeSuccess, time.Since(start))
	return nil
}

// SubmitTOTP checks the second factor for a principal awaiting it. Wrong
// codes do not count against the password attempt limit, but a connection
// is kicked after TwoFactorConfig.MaxLoginFailures of them.
func (a *Authenticator) SubmitTOTP(ctx context.Context, f *Flow, code string) error {
	start := time.Now()
	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := f.expect(StateAwaiting2FA); err != nil {
		return err
	}

	user := f.User()
	ok, err := a.twoFactor.Verify(user, code)
	if err != nil {
		if IsUserError(err) {
			RecordAttempt(MethodTOTP, OutcomeFailure, time.Since(start))
			return err
		}
		return a.abort(ctx, f, MethodTOTP, start, err)
	}
	if !ok {
		if f.recordTOTPFailure() >= a.twoFactor.MaxLoginFailures() {
			a.kick(f, KickWrongTOTP)
			RecordAttempt(MethodTOTP, OutcomeRateLimited, time.Since(start))
			return oops.Code(CodeRateLimited).Errorf("too many wrong codes")
		}
		RecordAttempt(MethodTOTP, OutcomeFailure, time.Since(start))
		return oops.Code(CodeTOTPWrong).Errorf("wrong code")
	}

	unlock, err := a.locks.Lock(ctx, userKey(user.LastNickname))
	if err != nil {
		return oops.Code("AUTH_CANCELLED").Wrap(err)
	}
	defer unlock()

	fresh, err := a.users.GetByID(ctx, user.ID)
	if err != nil {
		return a.abort(ctx, f, MethodTOTP, start, storeError("get user", err))
	}
	if err := a.authenticate(ctx, f, fresh, MethodTOTP, ""); err != nil {
		return a.abort(ctx, f, MethodTOTP, start, err)
	}
	RecordAttempt(MethodTOTP, OutcomeSuccess, time.Since(start))
	return nil
}

// Logout invalidates the session. A user with a password goes back to
// AWAITING_PASSWORD; a password-less premium user is disconnected.
func (a *Authenticator) Logout(ctx context.Context, f *Flow) error {
	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := f.expect(StateAuthenticated); err != nil {
		return err
	}
	user := f.User()
	if err := a.sessions.Invalidate(ctx, user.ID); err != nil {
		return a.failed(ctx, "logout failed", storeError("invalidate session", err))
	}
	f.setSessionToken("")
	a.twoFactor.Cancel(user.ID)

	if !user.IsRegistered() {
		a.kick(f, KickLoggedOut)
		return nil
	}
	f.transition(StateAwaitingPassword, nil)
	a.armAuthorizeTimer(f)
	return nil
}

// ChangePassword replaces the password after checking the current one and
// invalidates the session.
func (a *Authenticator) ChangePassword(ctx context.Context, f *Flow, oldPassword, newPassword string) error {
	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := f.expect(StateAuthenticated); err != nil {
		return err
	}
	if err := ValidatePassword(newPassword, a.settings.MinPasswordLength); err != nil {
		return err
	}

	return a.mutateUser(ctx, f, func(user *User) error {
		if user.IsRegistered() {
			ok, err := a.hashing.Verify(oldPassword, *user.Password)
			if err != nil {
				return err
			}
			if !ok {
				return oops.Code(CodeInvalidCredentials).Errorf("current password is wrong")
			}
		}
		hp, err := a.hashing.Hash(newPassword)
		if err != nil {
			return err
		}
		user.Password = &hp
		return nil
	}, true)
}

// BeginTwoFactorEnable issues a pending secret for the authenticated user.
func (a *Authenticator) BeginTwoFactorEnable(ctx context.Context, f *Flow) (Provisioning, error) {
	_, release, err := f.acquire(ctx)
	if err != nil {
		return Provisioning{}, err
	}
	defer release()

	if err := f.expect(StateAuthenticated); err != nil {
		return Provisioning{}, err
	}
	return a.twoFactor.BeginEnable(f.User())
}

// ConfirmTwoFactorEnable commits the pending secret when code matches it.
func (a *Authenticator) ConfirmTwoFactorEnable(ctx context.Context, f *Flow, code string) error {
	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := f.expect(StateAuthenticated); err != nil {
		return err
	}
	return a.mutateUser(ctx, f, func(user *User) error {
		secret, err := a.twoFactor.ConfirmEnable(user, code)
		if err != nil {
			return err
		}
		user.Secret2FA = secret
		return nil
	}, true)
}

// BeginTwoFactorDisable marks the authenticated user as awaiting disable
// confirmation.
func (a *Authenticator) BeginTwoFactorDisable(ctx context.Context, f *Flow) error {
	_, release, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := f.expect(StateAuthenticated); err != nil {
		return err
	}
	return a.twoFactor.BeginDisable(f.User())
}

// ConfirmTwoFactorDisable clears the secret when code matches it. A wrong
// code returns false with a TOTP_WRONG error and leaves 2FA enabled.
func (a *Authenticator) ConfirmTwoFactorDisable(ctx context.Context, f *Flow, code string) (bool, error) {
	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	if err := f.expect(StateAuthenticated); err != nil {
		return false, err
	}
	err = a.mutateUser(ctx, f, func(user *User) error {
		ok, err := a.twoFactor.ConfirmDisable(user, code)
		if err != nil {
			return err
		}
		if !ok {
			return oops.Code(CodeTOTPWrong).Errorf("wrong code")
		}
		user.Secret2FA = ""
		return nil
	}, false)
	return err == nil, err
}

// EnablePremium binds the authenticated user to a verified premium identity
// after confirming the password. The principal is disconnected so that it
// rejoins as premium.
func (a *Authenticator) EnablePremium(ctx context.Context, f *Flow, password string, premiumID uuid.UUID) error {
	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := f.expect(StateAuthenticated); err != nil {
		return err
	}

	err = a.mutateUser(ctx, f, func(user *User) error {
		if user.IsPremium() {
			return oops.Code(CodeAlreadyPremium).Errorf("already premium")
		}
		if user.IsRegistered() {
			ok, err := a.hashing.Verify(password, *user.Password)
			if err != nil {
				return err
			}
			if !ok {
				return oops.Code(CodeInvalidCredentials).Errorf("password is wrong")
			}
		}
		holder, err := a.findByPremiumID(ctx, premiumID)
		if err != nil {
			return err
		}
		if holder != nil && holder.ID != user.ID {
			return oops.Code(CodeNameTaken).
				With("premium_id", premiumID.String()).
				Errorf("premium identity already bound to another account")
		}
		user.PremiumID = &premiumID
		user.Premium = PremiumVerified
		return nil
	}, true)
	if err != nil {
		return err
	}
	a.kick(f, KickPremiumEnabled)
	return nil
}

// DisablePremium unbinds the premium identity. The user must have a
// password to log in with afterwards.
func (a *Authenticator) DisablePremium(ctx context.Context, f *Flow) error {
	ctx, release, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := f.expect(StateAuthenticated); err != nil {
		return err
	}

	err = a.mutateUser(ctx, f, func(user *User) error {
		if !user.IsPremium() {
			return oops.Code(CodeNotPremium).Errorf("not premium")
		}
		if !user.IsRegistered() {
			return oops.Code(CodeNotRegistered).Errorf("set a password before disabling premium")
		}
		user.PremiumID = nil
		user.Premium = PremiumCracked
		return nil
	}, true)
	if err != nil {
		return err
	}
	a.kick(f, KickPremiumDisabled)
	return nil
}

// mutateUser applies change to a fresh copy of the flow's user under the
// user's lock and persists it. invalidate also drops the user's session.
func (a *Authenticator) mutateUser(ctx context.Context, f *Flow, change func(*User) error, invalidate bool) error {
	id, ok := f.userID()
	if !ok {
		return oops.Code(CodeUnauthorized).Errorf("not authenticated")
	}
	unlock, err := a.locks.Lock(ctx, userKey(f.userName()))
	if err != nil {
		return oops.Code("AUTH_CANCELLED").Wrap(err)
	}
	defer unlock()

	user, err := a.users.GetByID(ctx, id)
	if err != nil {
		return a.failed(ctx, "load user failed", storeError("get user", err))
	}
	if err := change(user); err != nil {
		if IsUserError(err) {
			return err
		}
		return a.failed(ctx, "user update rejected", err)
	}
	if err := a.users.Update(ctx, user); err != nil {
		return a.failed(ctx, "user update failed", storeError("update user", err))
	}
	if invalidate {
		if err := a.sessions.Invalidate(ctx, user.ID); err != nil {
			return a.failed(ctx, "session invalidation failed", storeError("invalidate session", err))
		}
		f.setSessionToken("")
	}
	f.transition(StateAuthenticated, user)
	return nil
}

// Disconnect ends a flow without notifying the host. In-flight work for the
// flow is cancelled.
func (a *Authenticator) Disconnect(f *Flow) {
	f.terminate(kickReasonDisconnected)
	a.untrack(f)
}

// IsCommandAllowed reports whether the principal may run command in its
// current state.
func (a *Authenticator) IsCommandAllowed(f *Flow, command string) bool {
	if f.State() == StateAuthenticated {
		return true
	}
	return a.allowed.Allows(command)
}

// SweepSessions removes expired sessions.
func (a *Authenticator) SweepSessions(ctx context.Context) (int64, error) {
	n, err := a.sessions.DeleteExpired(ctx, a.now())
	if err != nil {
		return 0, storeError("delete expired sessions", err)
	}
	return n, nil
}

// armAuthorizeTimer kicks f if it is still unauthenticated once
// AuthorizeTimeout elapses.
func (a *Authenticator) armAuthorizeTimer(f *Flow) {
	if a.settings.AuthorizeTimeout < 0 {
		return
	}
	s := f.State()
	if s == StateAuthenticated || s.Terminal() {
		return
	}
	f.armTimer(a.settings.AuthorizeTimeout, func() {
		if f.expire(KickTimeLimit) {
			a.afterKick(f, KickTimeLimit)
		}
	})
}

// kick terminates f and notifies the host.
func (a *Authenticator) kick(f *Flow, reason string) {
	if f.terminate(reason) {
		a.afterKick(f, reason)
	}
}

func (a *Authenticator) afterKick(f *Flow, reason string) {
	a.untrack(f)
	RecordKick(reason)
	a.logger.Info("principal kicked",
		"handle", f.identity.Handle,
		"name", f.identity.Name,
		"reason", reason)
	a.kicker.Kick(f.identity.Handle, reason)
}

// kickAllNamed kicks every connected principal claiming name.
func (a *Authenticator) kickAllNamed(name, reason string) {
	a.mu.Lock()
	var targets []*Flow
	for _, f := range a.flows {
		if strings.EqualFold(f.identity.Name, name) {
			targets = append(targets, f)
		}
	}
	a.mu.Unlock()

	for _, f := range targets {
		a.kick(f, reason)
	}
}

// abort logs a fatal-to-the-operation error and disconnects the principal
// with the generic failure message.
func (a *Authenticator) abort(ctx context.Context, f *Flow, method string, start time.Time, err error) error {
	errutil.LogErrorContext(ctx, a.logger, slog.LevelError, "authentication aborted", err)
	RecordAttempt(method, OutcomeError, time.Since(start))
	a.kick(f, MessageErrorOccurred)
	return err
}

// failed logs an error for an authenticated principal without kicking it.
func (a *Authenticator) failed(ctx context.Context, msg string, err error) error {
	errutil.LogErrorContext(ctx, a.logger, slog.LevelError, msg, err)
	return err
}

func (a *Authenticator) track(f *Flow) {
	a.mu.Lock()
	old := a.flows[f.identity.Handle]
	a.flows[f.identity.Handle] = f
	a.mu.Unlock()

	if old != nil {
		old.terminate(kickReasonDisconnected)
	}
}

func (a *Authenticator) untrack(f *Flow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flows[f.identity.Handle] == f {
		delete(a.flows, f.identity.Handle)
	}
}

func (a *Authenticator) findByName(ctx context.Context, name string) (*User, error) {
	u, err := a.users.GetByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get user by name", err)
	}
	return u, nil
}

func (a *Authenticator) findByPremiumID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := a.users.GetByPremiumID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get user by premium id", err)
	}
	return u, nil
}

// userKey is the lock key serializing writes to one account.
func userKey(name string) string {
	return "user:" + strings.ToLower(name)
}

func storeError(operation string, err error) error {
	return oops.Code("AUTH_STORE_FAILED").With("operation", operation).Wrap(err)
}
