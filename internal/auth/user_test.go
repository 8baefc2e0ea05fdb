// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/hashing"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestNewUser(t *testing.T) {
	now := time.Now()

	t.Run("valid", func(t *testing.T) {
		id := uuid.New()
		u, err := auth.NewUser(id, "Steve", "10.0.0.1", now)
		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
		assert.Equal(t, auth.PremiumCracked, u.Premium)
		assert.Equal(t, now, u.JoinDate)
		assert.False(t, u.IsRegistered())
		assert.False(t, u.IsPremium())
		assert.False(t, u.HasTwoFactor())
	})

	t.Run("nil id", func(t *testing.T) {
		_, err := auth.NewUser(uuid.Nil, "Steve", "10.0.0.1", now)
		errutil.AssertErrorCode(t, err, "USER_INVALID_ID")
	})

	t.Run("empty nickname", func(t *testing.T) {
		_, err := auth.NewUser(uuid.New(), "", "10.0.0.1", now)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidUsername)
	})
}

func TestUser_IsPremium(t *testing.T) {
	pid := uuid.New()
	u := &auth.User{ID: uuid.New(), Premium: auth.PremiumVerified}
	assert.False(t, u.IsPremium(), "status alone is not enough")
	u.PremiumID = &pid
	assert.True(t, u.IsPremium())
	u.Premium = auth.PremiumUnknown
	assert.False(t, u.IsPremium())
}

func TestUser_Clone(t *testing.T) {
	pid := uuid.New()
	u := &auth.User{
		ID:        uuid.New(),
		PremiumID: &pid,
		Password:  &hashing.HashedPassword{Hash: "h", Algorithm: hashing.BCrypt2A},
	}
	c := u.Clone()
	*c.PremiumID = uuid.New()
	c.Password.Hash = "other"

	assert.Equal(t, pid, *u.PremiumID)
	assert.Equal(t, "h", u.Password.Hash)
}

func TestUser_TouchIsMonotonic(t *testing.T) {
	now := time.Now()
	u, err := auth.NewUser(uuid.New(), "Steve", "10.0.0.1", now)
	require.NoError(t, err)

	u.Touch("10.0.0.2", now.Add(time.Minute))
	assert.Equal(t, "10.0.0.2", u.IP)
	assert.Equal(t, now.Add(time.Minute), u.LastSeen)
	assert.Equal(t, now.Add(time.Minute), u.LastAuthDate)

	u.Touch("", now)
	assert.Equal(t, "10.0.0.2", u.IP)
	assert.Equal(t, now.Add(time.Minute), u.LastSeen)
	assert.Equal(t, now.Add(time.Minute), u.LastAuthDate)
}

func TestPremiumStatus(t *testing.T) {
	for _, s := range []auth.PremiumStatus{auth.PremiumUnknown, auth.PremiumCracked, auth.PremiumVerified} {
		assert.Equal(t, s, auth.ParsePremiumStatus(s.String()))
	}
	assert.Equal(t, "PREMIUM", auth.PremiumVerified.String())
	assert.Equal(t, auth.PremiumUnknown, auth.ParsePremiumStatus("bogus"))
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		min     int
		wantErr bool
	}{
		{"simple", "Steve", 0, false},
		{"underscore and digits", "a_1", 0, false},
		{"max length", strings.Repeat("a", auth.MaxUsernameLength), 0, false},
		{"too long", strings.Repeat("a", auth.MaxUsernameLength+1), 0, true},
		{"empty", "", 0, true},
		{"space", "a b", 0, true},
		{"dash", "a-b", 0, true},
		{"below minimum", "ab", 3, true},
		{"minimum ignored when zero", "a", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateUsername(tt.input, tt.min)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, auth.CodeInvalidUsername)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, auth.ValidatePassword("x", -1))
	assert.NoError(t, auth.ValidatePassword("hunter22", 8))
	errutil.AssertErrorCode(t, auth.ValidatePassword("", 0), auth.CodePasswordTooShort)
	errutil.AssertErrorCode(t, auth.ValidatePassword("short", 8), auth.CodePasswordTooShort)
}

func TestOfflineUUID(t *testing.T) {
	id := auth.OfflineUUID("Notch")
	assert.Equal(t, "b50ad385-829d-3141-a216-7e7d7539ba7f", id.String())
	assert.Equal(t, uuid.Version(3), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())
	assert.NotEqual(t, id, auth.OfflineUUID("notch"), "case sensitive")
}

func TestUUIDCreator(t *testing.T) {
	pid := uuid.New()

	assert.True(t, auth.UUIDRandom.Valid())
	assert.False(t, auth.UUIDCreator("BOGUS").Valid())

	assert.Equal(t, auth.OfflineUUID("Steve"), auth.UUIDCracked.NewID("Steve", &pid))
	assert.Equal(t, pid, auth.UUIDMojang.NewID("Steve", &pid))
	assert.Equal(t, auth.OfflineUUID("Steve"), auth.UUIDMojang.NewID("Steve", nil))
	assert.NotEqual(t, auth.UUIDRandom.NewID("Steve", nil), auth.UUIDRandom.NewID("Steve", nil))
}
