// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/hashing"
)

var (
	digest256 = strings.Repeat("ab", 32)
	digest512 = strings.Repeat("cd", 64)
	bcryptStr = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

func TestParseAuthMe(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    *hashing.HashedPassword
		wantErr bool
	}{
		{name: "empty is no password", in: ""},
		{
			name: "sha",
			in:   "$SHA$a1b2c3d4e5f60708$" + strings.ToUpper(digest256),
			want: &hashing.HashedPassword{Hash: digest256, Salt: "a1b2c3d4e5f60708", Algorithm: hashing.SHA256},
		},
		{name: "bcrypt 2a", in: bcryptStr, want: &hashing.HashedPassword{Hash: bcryptStr, Algorithm: hashing.BCrypt2A}},
		{
			name: "bcrypt 2y",
			in:   "$2y$" + bcryptStr[4:],
			want: &hashing.HashedPassword{Hash: "$2y$" + bcryptStr[4:], Algorithm: hashing.BCrypt2A},
		},
		{name: "sha wrong length", in: "$SHA$salt$abcd", wantErr: true},
		{name: "sha missing salt", in: "$SHA$$" + digest256, wantErr: true},
		{name: "plain md5", in: "5f4dcc3b5aa765d61d8327deb882cf99", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAuthMe(tt.in)
			if tt.wantErr {
				var se *SkipError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, ReasonUnsupportedHash, se.Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJPremium(t *testing.T) {
	got, err := parseJPremium("SHA256$salty$" + digest256)
	require.NoError(t, err)
	assert.Equal(t, &hashing.HashedPassword{Hash: digest256, Salt: "salty", Algorithm: hashing.SHA256}, got)

	got, err = parseJPremium("SHA512$salty$" + digest512)
	require.NoError(t, err)
	assert.Equal(t, hashing.SHA512, got.Algorithm)

	got, err = parseJPremium("BCRYPT$" + bcryptStr)
	require.NoError(t, err)
	assert.Equal(t, bcryptStr, got.Hash)

	got, err = parseJPremium("")
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, bad := range []string{"SHA256$" + digest256, "MD5$x$y", "BCRYPT$nothash", "noprefix"} {
		_, err := parseJPremium(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseNLogin(t *testing.T) {
	got, err := parseNLogin("$SHA512$" + digest512 + "$pepper")
	require.NoError(t, err)
	assert.Equal(t, &hashing.HashedPassword{Hash: digest512, Salt: "pepper", Algorithm: hashing.SHA512}, got)

	got, err = parseNLogin("$SHA256$" + digest256 + "$pepper")
	require.NoError(t, err)
	assert.Equal(t, hashing.SHA256, got.Algorithm)

	got, err = parseNLogin(bcryptStr)
	require.NoError(t, err)
	assert.Equal(t, hashing.BCrypt2A, got.Algorithm)

	_, err = parseNLogin("$SHA512$" + digest256 + "$pepper")
	assert.Error(t, err, "a SHA-256 length digest under a SHA512 tag is ambiguous")

	_, err = parseNLogin("$SHA512$" + digest512 + "$")
	assert.Error(t, err)
}

func TestParseBCryptOnly(t *testing.T) {
	got, err := parseBCryptOnly(bcryptStr)
	require.NoError(t, err)
	assert.Equal(t, hashing.BCrypt2A, got.Algorithm)

	_, err = parseBCryptOnly("$SHA$salt$" + digest256)
	assert.Error(t, err)
}

func TestParseSaltedColumns(t *testing.T) {
	got, err := parseSaltedColumns(hashing.SHA512, digest512, "s")
	require.NoError(t, err)
	assert.Equal(t, "s", got.Salt)

	got, err = parseSaltedColumns(hashing.SHA256, "", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseSaltedColumns(hashing.SHA256, digest256, "")
	assert.Error(t, err)

	_, err = parseSaltedColumns(hashing.SHA512, digest256, "s")
	assert.Error(t, err)
}
