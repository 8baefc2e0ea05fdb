// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hashing provides the pluggable password hashing providers and the
// registry that dispatches verification by the algorithm recorded with a hash.
package hashing

import (
	"github.com/samber/oops"
)

// Algorithm identifiers recorded alongside every stored hash.
const (
	SHA256   = "SHA-256"
	SHA512   = "SHA-512"
	BCrypt2A = "BCrypt-2A"
	Argon2ID = "Argon-2ID"
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("HASH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// HashedPassword is a stored credential. Salt is empty for formats that
// embed their salt in Hash.
type HashedPassword struct {
	Hash      string `json:"hash"`
	Salt      string `json:"salt,omitempty"`
	Algorithm string `json:"algorithm"`
}

// Provider hashes and verifies passwords for one algorithm.
type Provider interface {
	// ID is the algorithm identifier stored with each hash.
	ID() string

	// Hash produces a new salted hash of password.
	Hash(password string) (HashedPassword, error)

	// Verify reports whether password matches hashed.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error
	// when the stored hash is malformed.
	Verify(password string, hashed HashedPassword) (bool, error)
}
