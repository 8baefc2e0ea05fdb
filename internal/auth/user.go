// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/md5" //nolint:gosec // offline UUIDs are defined as MD5 name-based UUIDs
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/hashing"
)

// MaxUsernameLength is the longest display name the game accepts.
const MaxUsernameLength = 16

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// PremiumStatus records whether an identity was validated against the
// upstream identity authority.
type PremiumStatus int

// Premium states.
const (
	PremiumUnknown PremiumStatus = iota
	PremiumCracked
	PremiumVerified
)

// String returns the stored name of the status.
func (s PremiumStatus) String() string {
	switch s {
	case PremiumCracked:
		return "CRACKED"
	case PremiumVerified:
		return "PREMIUM"
	default:
		return "UNKNOWN"
	}
}

// ParsePremiumStatus parses a stored status name. Unrecognized names map to
// PremiumUnknown.
func ParsePremiumStatus(s string) PremiumStatus {
	switch strings.ToUpper(s) {
	case "CRACKED":
		return PremiumCracked
	case "PREMIUM":
		return PremiumVerified
	default:
		return PremiumUnknown
	}
}

// User is the canonical account record.
type User struct {
	ID           uuid.UUID
	PremiumID    *uuid.UUID
	LastNickname string
	Premium      PremiumStatus
	Password     *hashing.HashedPassword
	IP           string
	JoinDate     time.Time
	LastSeen     time.Time
	LastAuthDate time.Time
	Secret2FA    string
}

// NewUser creates a validated User. Password and PremiumID are left for the
// caller to fill in.
func NewUser(id uuid.UUID, nickname, ip string, now time.Time) (*User, error) {
	if id == uuid.Nil {
		return nil, oops.Code("USER_INVALID_ID").Errorf("user ID cannot be nil")
	}
	if nickname == "" {
		return nil, oops.Code(CodeInvalidUsername).Errorf("nickname cannot be empty")
	}
	return &User{
		ID:           id,
		LastNickname: nickname,
		Premium:      PremiumCracked,
		IP:           ip,
		JoinDate:     now,
		LastSeen:     now,
	}, nil
}

// IsRegistered reports whether the user has a password.
func (u *User) IsRegistered() bool {
	return u.Password != nil
}

// IsPremium reports whether the user is bound to a verified premium identity.
func (u *User) IsPremium() bool {
	return u.Premium == PremiumVerified && u.PremiumID != nil
}

// HasTwoFactor reports whether 2FA is enabled.
func (u *User) HasTwoFactor() bool {
	return u.Secret2FA != ""
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.PremiumID != nil {
		id := *u.PremiumID
		c.PremiumID = &id
	}
	if u.Password != nil {
		pw := *u.Password
		c.Password = &pw
	}
	return &c
}

// Touch advances the timestamps for an authentication from ip at now.
// Timestamps never move backwards.
func (u *User) Touch(ip string, now time.Time) {
	if ip != "" {
		u.IP = ip
	}
	if now.After(u.LastSeen) {
		u.LastSeen = now
	}
	if now.After(u.LastAuthDate) {
		u.LastAuthDate = now
	}
}

// ValidateUsername checks the characters and length of a display name.
// minLength is ignored when not positive.
func ValidateUsername(name string, minLength int) error {
	if name == "" {
		return oops.Code(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if len(name) > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if minLength > 0 && len(name) < minLength {
		return oops.Code(CodeInvalidUsername).
			With("min", minLength).
			Errorf("username must be at least %d characters", minLength)
	}
	if !usernameRegex.MatchString(name) {
		return oops.Code(CodeInvalidUsername).
			Errorf("username may contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidatePassword checks a new password. minLength is ignored when not positive.
func ValidatePassword(password string, minLength int) error {
	if password == "" {
		return oops.Code(CodePasswordTooShort).Errorf("password cannot be empty")
	}
	if minLength > 0 && len(password) < minLength {
		return oops.Code(CodePasswordTooShort).
			With("min", minLength).
			Errorf("password must be at least %d characters", minLength)
	}
	return nil
}

// OfflineUUID returns the identifier an offline-mode server assigns to name:
// a version 3 UUID over the MD5 of "OfflinePlayer:"+name.
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name)) //nolint:gosec // see import
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	return uuid.UUID(sum)
}

// UUIDCreator selects how IDs are assigned to new users.
type UUIDCreator string

// UUID creators.
const (
	UUIDRandom  UUIDCreator = "RANDOM"
	UUIDCracked UUIDCreator = "CRACKED"
	UUIDMojang  UUIDCreator = "MOJANG"
)

// Valid reports whether c is a known creator.
func (c UUIDCreator) Valid() bool {
	switch c {
	case UUIDRandom, UUIDCracked, UUIDMojang:
		return true
	default:
		return false
	}
}

// NewID assigns an ID for a new user named name. premiumID is the verified
// premium identifier when one is known.
func (c UUIDCreator) NewID(name string, premiumID *uuid.UUID) uuid.UUID {
	switch c {
	case UUIDRandom:
		return uuid.New()
	case UUIDMojang:
		if premiumID != nil {
			return *premiumID
		}
		return OfflineUUID(name)
	default:
		return OfflineUUID(name)
	}
}

// UserRepository manages user persistence.
type UserRepository interface {
	// GetByName retrieves a user by nickname (case-insensitive).
	GetByName(ctx context.Context, name string) (*User, error)

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetByPremiumID retrieves the user bound to a premium identity.
	GetByPremiumID(ctx context.Context, premiumID uuid.UUID) (*User, error)

	// Create stores a new user. Returns ErrAlreadyExists when the ID,
	// nickname or premium ID is taken.
	Create(ctx context.Context, user *User) error

	// Update replaces a stored user.
	Update(ctx context.Context, user *User) error

	// Delete removes a user and its session.
	Delete(ctx context.Context, id uuid.UUID) error

	// Replace removes the user oldID and stores user in its place as one
	// atomic change. On error neither record has changed.
	Replace(ctx context.Context, oldID uuid.UUID, user *User) error

	// CountByIP returns the number of users whose last IP is ip.
	CountByIP(ctx context.Context, ip string) (int, error)
}
