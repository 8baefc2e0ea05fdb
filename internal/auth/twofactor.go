// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth/totp"
)

// Two-factor defaults.
const (
	DefaultTOTPLabel       = "LibreLogin Network"
	DefaultTOTPDelay       = time.Second
	DefaultChallengeTTL    = 5 * time.Minute
	DefaultMaxTOTPFailures = 5
)

// TwoFactorConfig configures the two-factor engine.
type TwoFactorConfig struct {
	// Enabled allows users to turn on 2FA.
	Enabled bool
	// Label is the issuer shown by authenticator apps.
	Label string
	// Delay is the minimum time between two code checks for one user.
	Delay time.Duration
	// ChallengeTTL bounds how long a pending enable or disable stays open.
	ChallengeTTL time.Duration
	// MaxLoginFailures is the number of consecutive wrong codes a
	// connection may submit at login before it is disconnected.
	MaxLoginFailures int
}

// DefaultTwoFactorConfig returns the defaults.
func DefaultTwoFactorConfig() TwoFactorConfig {
	return TwoFactorConfig{
		Enabled:          true,
		Label:            DefaultTOTPLabel,
		Delay:            DefaultTOTPDelay,
		ChallengeTTL:     DefaultChallengeTTL,
		MaxLoginFailures: DefaultMaxTOTPFailures,
	}
}

// Provisioning is what a user needs to add the secret to an authenticator app.
type Provisioning struct {
	Secret string
	URI    string
}

// challenge is a pending enable (secret set) or disable (awaitingDisable).
type challenge struct {
	secret          string
	awaitingDisable bool
	startedAt       time.Time
}

// TwoFactor holds pending 2FA challenges and verifies codes. Challenges are
// process-local and expire after ChallengeTTL.
type TwoFactor struct {
	cfg  TwoFactorConfig
	totp *totp.TOTP
	now  func() time.Time

	mu          sync.Mutex
	challenges  map[uuid.UUID]*challenge
	lastAttempt map[uuid.UUID]time.Time
}

// NewTwoFactor creates the engine. A nil now uses time.Now.
func NewTwoFactor(cfg TwoFactorConfig, now func() time.Time) *TwoFactor {
	if cfg.Label == "" {
		cfg.Label = DefaultTOTPLabel
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	if cfg.MaxLoginFailures <= 0 {
		cfg.MaxLoginFailures = DefaultMaxTOTPFailures
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if now == nil {
		now = time.Now
	}
	return &TwoFactor{
		cfg:         cfg,
		totp:        totp.New(totp.DefaultConfig(cfg.Label)),
		now:         now,
		challenges:  make(map[uuid.UUID]*challenge),
		lastAttempt: make(map[uuid.UUID]time.Time),
	}
}

// Enabled reports whether 2FA may be turned on.
func (t *TwoFactor) Enabled() bool {
	return t.cfg.Enabled
}

// MaxLoginFailures returns the per-connection bound on wrong login codes.
func (t *TwoFactor) MaxLoginFailures() int {
	return t.cfg.MaxLoginFailures
}

// BeginEnable issues a secret for user and holds it until confirmed.
// Calling it again while the challenge is open returns the same secret.
func (t *TwoFactor) BeginEnable(user *User) (Provisioning, error) {
	if !t.cfg.Enabled {
		return Provisioning{}, oops.Code(CodeTOTPDisabled).Errorf("two-factor authentication is disabled")
	}
	if user.HasTwoFactor() {
		return Provisioning{}, oops.Code(CodeTOTPAlreadyEnabled).Errorf("two-factor authentication already enabled")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)

	if c, ok := t.challenges[user.ID]; ok && c.secret != "" {
		return t.provisioning(user, c.secret), nil
	}

	secret, err := t.totp.GenerateSecret()
	if err != nil {
		return Provisioning{}, err
	}
	t.challenges[user.ID] = &challenge{secret: secret, startedAt: now}
	return t.provisioning(user, secret), nil
}

// ConfirmEnable checks code against the pending secret. On success the
// challenge is cleared and the secret returned for the caller to persist.
// A wrong code leaves the challenge open.
func (t *TwoFactor) ConfirmEnable(user *User, raw string) (string, error) {
	code, err := normalize(raw)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	c := t.liveChallengeLocked(user.ID, now)
	if c == nil || c.secret == "" {
		return "", oops.Code(CodeTOTPNoChallenge).Errorf("no pending two-factor setup")
	}
	if err := t.paceLocked(user.ID, now); err != nil {
		return "", err
	}

	ok, err := t.totp.Verify(c.secret, code, now)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", oops.Code(CodeTOTPWrong).Errorf("wrong code")
	}

	delete(t.challenges, user.ID)
	delete(t.lastAttempt, user.ID)
	return c.secret, nil
}

// BeginDisable marks user as awaiting disable confirmation.
func (t *TwoFactor) BeginDisable(user *User) error {
	if !user.HasTwoFactor() {
		return oops.Code(CodeTOTPNotEnabled).Errorf("two-factor authentication is not enabled")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)
	if c, ok := t.challenges[user.ID]; ok && c.awaitingDisable {
		return nil
	}
	t.challenges[user.ID] = &challenge{awaitingDisable: true, startedAt: now}
	return nil
}

// AwaitingDisable reports whether a disable confirmation is open for user.
func (t *TwoFactor) AwaitingDisable(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.liveChallengeLocked(userID, t.now())
	return c != nil && c.awaitingDisable
}

// ConfirmDisable checks code against the stored secret. It returns false on
// a wrong code, leaving 2FA enabled and the confirmation open.
func (t *TwoFactor) ConfirmDisable(user *User, raw string) (bool, error) {
	if !user.HasTwoFactor() {
		return false, oops.Code(CodeTOTPNotEnabled).Errorf("two-factor authentication is not enabled")
	}
	code, err := normalize(raw)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	c := t.liveChallengeLocked(user.ID, now)
	if c == nil || !c.awaitingDisable {
		return false, oops.Code(CodeTOTPNoChallenge).Errorf("not awaiting disable confirmation")
	}
	if err := t.paceLocked(user.ID, now); err != nil {
		return false, err
	}

	ok, err := t.totp.Verify(user.Secret2FA, code, now)
	if err != nil || !ok {
		return false, err
	}

	delete(t.challenges, user.ID)
	delete(t.lastAttempt, user.ID)
	return true, nil
}

// Verify is the login gate: it checks code against user's stored secret.
func (t *TwoFactor) Verify(user *User, raw string) (bool, error) {
	if !user.HasTwoFactor() {
		return false, oops.Code(CodeTOTPNotEnabled).Errorf("two-factor authentication is not enabled")
	}
	code, err := normalize(raw)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	now := t.now()
	err = t.paceLocked(user.ID, now)
	t.mu.Unlock()
	if err != nil {
		return false, err
	}

	return t.totp.Verify(user.Secret2FA, code, now)
}

// Cancel drops any open challenge for userID.
func (t *TwoFactor) Cancel(userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.challenges, userID)
}

// Pending returns the number of open challenges.
func (t *TwoFactor) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(t.now())
	return len(t.challenges)
}

func (t *TwoFactor) provisioning(user *User, secret string) Provisioning {
	return Provisioning{Secret: secret, URI: t.totp.ProvisionURI(secret, user.LastNickname)}
}

func (t *TwoFactor) liveChallengeLocked(userID uuid.UUID, now time.Time) *challenge {
	c, ok := t.challenges[userID]
	if !ok {
		return nil
	}
	if now.Sub(c.startedAt) > t.cfg.ChallengeTTL {
		delete(t.challenges, userID)
		return nil
	}
	return c
}

// paceLocked enforces Delay between code checks for one user.
func (t *TwoFactor) paceLocked(userID uuid.UUID, now time.Time) error {
	if last, ok := t.lastAttempt[userID]; ok && now.Sub(last) < t.cfg.Delay {
		return oops.Code(CodeTOTPRateLimited).
			With("retry_after", t.cfg.Delay-now.Sub(last)).
			Errorf("too many code attempts")
	}
	t.lastAttempt[userID] = now
	return nil
}

func (t *TwoFactor) sweepLocked(now time.Time) {
	for id, c := range t.challenges {
		if now.Sub(c.startedAt) > t.cfg.ChallengeTTL {
			delete(t.challenges, id)
		}
	}
	for id, last := range t.lastAttempt {
		if now.Sub(last) > t.cfg.Delay {
			delete(t.lastAttempt, id)
		}
	}
}

// normalize maps the totp package's format error onto the auth code.
func normalize(raw string) (string, error) {
	code, err := totp.NormalizeCode(raw)
	if err != nil {
		return "", oops.Code(CodeTOTPInvalidFormat).Errorf("code must be numeric")
	}
	return code, nil
}
