// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package totp implements RFC 6238 time-based one-time passwords with
// HMAC-SHA1, as understood by common authenticator apps.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // RFC 6238 default; authenticator apps expect SHA1
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/samber/oops"
)

const secretBytes = 20

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config controls code shape and drift tolerance.
type Config struct {
	// Issuer is shown by authenticator apps next to the account name.
	Issuer string
	// Period is the time step. Defaults to 30s.
	Period time.Duration
	// Digits is the code length. Defaults to 6.
	Digits int
	// Skew is how many adjacent steps are accepted on each side. Defaults to 1.
	Skew int
}

// DefaultConfig returns the RFC 6238 defaults with the given issuer.
func DefaultConfig(issuer string) Config {
	return Config{Issuer: issuer, Period: 30 * time.Second, Digits: 6, Skew: 1}
}

// TOTP generates and verifies codes.
type TOTP struct {
	cfg Config
}

// New creates a TOTP with cfg, filling zero fields with defaults.
func New(cfg Config) *TOTP {
	def := DefaultConfig(cfg.Issuer)
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.Digits <= 0 {
		cfg.Digits = def.Digits
	}
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	return &TOTP{cfg: cfg}
}

// GenerateSecret returns a new random secret, base32 encoded without padding.
func (t *TOTP) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", oops.Code("TOTP_SECRET_FAILED").Wrap(err)
	}
	return encoding.EncodeToString(raw), nil
}

// ProvisionURI returns the otpauth:// URI an authenticator app scans.
func (t *TOTP) ProvisionURI(secret, account string) string {
	label := url.PathEscape(t.cfg.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", t.cfg.Issuer)
	v.Set("period", strconv.Itoa(int(t.cfg.Period/time.Second)))
	v.Set("digits", strconv.Itoa(t.cfg.Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Code returns the code for secret at now.
func (t *TOTP) Code(secret string, now time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, t.counter(now), t.cfg.Digits), nil
}

// Verify reports whether code is valid for secret at now, accepting the
// configured number of adjacent time steps. code must already be normalized.
func (t *TOTP) Verify(secret, code string, now time.Time) (bool, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return false, err
	}
	if len(code) != t.cfg.Digits {
		return false, nil
	}

	base := t.counter(now)
	matched := 0
	for step := -t.cfg.Skew; step <= t.cfg.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		// Every window is checked so timing does not reveal which one matched.
		matched |= subtle.ConstantTimeCompare([]byte(hotp(key, counter, t.cfg.Digits)), []byte(code))
	}
	return matched == 1, nil
}

func (t *TOTP) counter(now time.Time) int64 {
	return now.Unix() / int64(t.cfg.Period/time.Second)
}

// NormalizeCode strips whitespace from raw and rejects anything that is not
// all digits.
func NormalizeCode(raw string) (string, error) {
	code := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	if code == "" {
		return "", oops.Code("TOTP_INVALID_FORMAT").Errorf("empty code")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", oops.Code("TOTP_INVALID_FORMAT").Errorf("code must be numeric")
		}
	}
	return code, nil
}

func decodeSecret(secret string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.TrimRight(strings.ReplaceAll(secret, " ", ""), "="))
	key, err := encoding.DecodeString(cleaned)
	if err != nil {
		return nil, oops.Code("TOTP_INVALID_SECRET").Wrap(err)
	}
	if len(key) == 0 {
		return nil, oops.Code("TOTP_INVALID_SECRET").Errorf("empty secret")
	}
	return key, nil
}

func hotp(key []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for range digits {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}
