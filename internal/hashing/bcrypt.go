// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hashing

import (
	"errors"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// BCrypt stores the full modular-crypt string. Hashes with the $2a$, $2b$
// and $2y$ prefixes all verify.
type BCrypt struct {
	cost int
}

// NewBCrypt creates a BCrypt provider. A cost outside bcrypt's range falls
// back to bcrypt.DefaultCost.
func NewBCrypt(cost int) *BCrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BCrypt{cost: cost}
}

// ID returns the algorithm identifier.
func (b *BCrypt) ID() string { return BCrypt2A }

// Hash produces a bcrypt hash of password.
func (b *BCrypt) Hash(password string) (HashedPassword, error) {
	if password == "" {
		return HashedPassword{}, ErrEmptyPassword
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return HashedPassword{}, oops.Code("HASH_FAILED").With("algorithm", BCrypt2A).Wrap(err)
	}
	return HashedPassword{Hash: string(out), Algorithm: BCrypt2A}, nil
}

// Verify checks password against the stored bcrypt string.
func (b *BCrypt) Verify(password string, hashed HashedPassword) (bool, error) {
	if !strings.HasPrefix(hashed.Hash, "$2") {
		return false, oops.Code("HASH_INVALID").With("algorithm", BCrypt2A).Errorf("not a bcrypt hash")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hashed.Hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("HASH_INVALID").With("algorithm", BCrypt2A).Wrap(err)
	}
}

// Cost reports the work factor recorded in a bcrypt hash.
func (b *BCrypt) Cost(hashed HashedPassword) (int, error) {
	cost, err := bcrypt.Cost([]byte(hashed.Hash))
	if err != nil {
		return 0, oops.Code("HASH_INVALID").With("algorithm", BCrypt2A).Wrap(err)
	}
	return cost, nil
}
