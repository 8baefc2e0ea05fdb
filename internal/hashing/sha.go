// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/samber/oops"
)

const shaSaltBytes = 8 // 16 hex characters

// SaltedSHA implements the salted double digest used by AuthMe and most
// legacy plugins: hex(H(hex(H(password)) + salt)).
type SaltedSHA struct {
	id  string
	new func() hash.Hash
}

// NewSHA256 creates the SHA-256 provider.
func NewSHA256() *SaltedSHA {
	return &SaltedSHA{id: SHA256, new: sha256.New}
}

// NewSHA512 creates the SHA-512 provider.
func NewSHA512() *SaltedSHA {
	return &SaltedSHA{id: SHA512, new: sha512.New}
}

// ID returns the algorithm identifier.
func (s *SaltedSHA) ID() string { return s.id }

// Hash produces a salted double digest of password.
func (s *SaltedSHA) Hash(password string) (HashedPassword, error) {
	if password == "" {
		return HashedPassword{}, ErrEmptyPassword
	}

	salt := make([]byte, shaSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return HashedPassword{}, oops.Code("HASH_SALT_FAILED").Wrap(err)
	}
	saltHex := hex.EncodeToString(salt)

	return HashedPassword{
		Hash:      s.digest(password, saltHex),
		Salt:      saltHex,
		Algorithm: s.id,
	}, nil
}

// Verify recomputes the digest with the stored salt and compares in constant time.
func (s *SaltedSHA) Verify(password string, hashed HashedPassword) (bool, error) {
	expected, err := hex.DecodeString(strings.ToLower(hashed.Hash))
	if err != nil {
		return false, oops.Code("HASH_INVALID").With("algorithm", s.id).Wrap(err)
	}
	if len(expected) != s.new().Size() {
		return false, oops.Code("HASH_INVALID").With("algorithm", s.id).Errorf("digest length %d does not match %s", len(expected), s.id)
	}

	computed, err := hex.DecodeString(s.digest(password, hashed.Salt))
	if err != nil {
		return false, oops.Code("HASH_INVALID").With("algorithm", s.id).Wrap(err)
	}
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func (s *SaltedSHA) digest(password, salt string) string {
	return s.hexSum(s.hexSum(password) + salt)
}

func (s *SaltedSHA) hexSum(in string) string {
	h := s.new()
	h.Write([]byte(in))
	return hex.EncodeToString(h.Sum(nil))
}
