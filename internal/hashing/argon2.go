// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// Upper bounds on parameters read from stored hashes. Imported hashes come
// straight from legacy databases, so a hostile row must not be able to make
// a login allocate or spin without limit.
const (
	argon2MaxMemory = 4 * argon2Memory
	argon2MaxTime   = 16
	argon2MaxKeyLen = 1024
)

// Argon2id stores hashes in PHC string format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2id struct{}

// NewArgon2id creates the Argon-2ID provider.
func NewArgon2id() *Argon2id {
	return &Argon2id{}
}

// ID returns the algorithm identifier.
func (a *Argon2id) ID() string { return Argon2ID }

// Hash produces an argon2id hash of password.
func (a *Argon2id) Hash(password string) (HashedPassword, error) {
	if password == "" {
		return HashedPassword{}, ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return HashedPassword{}, oops.Code("HASH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return HashedPassword{Hash: encoded, Algorithm: Argon2ID}, nil
}

// Verify parses the PHC parameters and recomputes the key with them.
func (a *Argon2id) Verify(password string, hashed HashedPassword) (bool, error) {
	parts := strings.Split(hashed.Hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).Errorf("unsupported argon2 version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).Errorf("threads value %d out of range", threads)
	}
	if memory > argon2MaxMemory {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).With("memory", memory).
			Errorf("memory cost exceeds %d KiB", argon2MaxMemory)
	}
	if time == 0 || time > argon2MaxTime {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).With("time", time).
			Errorf("time cost %d out of range", time)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).Wrap(err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).Wrap(err)
	}

	keyLen := len(expected)
	if keyLen == 0 || keyLen > argon2MaxKeyLen {
		return false, oops.Code("HASH_INVALID").With("algorithm", Argon2ID).Errorf("invalid hash key length: %d", keyLen)
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(keyLen))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
