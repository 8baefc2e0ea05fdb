// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"encoding/hex"
	"strings"

	"github.com/holomush/gatekeeper/internal/hashing"
)

// Hex digest lengths.
const (
	sha256HexLen = 64
	sha512HexLen = 128
)

func isBCrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func isHexDigest(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func bcryptHash(s string) *hashing.HashedPassword {
	return &hashing.HashedPassword{Hash: s, Algorithm: hashing.BCrypt2A}
}

// shaHash builds a salted double-digest credential after checking the digest
// length matches algorithm.
func shaHash(algorithm, digest, salt string) (*hashing.HashedPassword, error) {
	want := sha256HexLen
	if algorithm == hashing.SHA512 {
		want = sha512HexLen
	}
	digest = strings.ToLower(digest)
	if !isHexDigest(digest, want) {
		return nil, skip(ReasonUnsupportedHash, "%s digest must be %d hex characters", algorithm, want)
	}
	return &hashing.HashedPassword{Hash: digest, Salt: salt, Algorithm: algorithm}, nil
}

// parseAuthMe accepts AuthMe's "$SHA$salt$digest" SHA-256 format and
// modular-crypt BCrypt. An empty value means no password.
func parseAuthMe(s string) (*hashing.HashedPassword, error) {
	switch {
	case s == "":
		return nil, nil
	case isBCrypt(s):
		return bcryptHash(s), nil
	case strings.HasPrefix(s, "$SHA$"):
		parts := strings.Split(s, "$")
		// "", "SHA", salt, digest
		if len(parts) != 4 || parts[2] == "" {
			return nil, skip(ReasonUnsupportedHash, "malformed $SHA$ hash")
		}
		return shaHash(hashing.SHA256, parts[3], parts[2])
	}
	return nil, skip(ReasonUnsupportedHash, "unrecognized AuthMe hash")
}

// parseJPremium accepts "SHA256$salt$digest", "SHA512$salt$digest" and
// "BCRYPT$<modular crypt>".
func parseJPremium(s string) (*hashing.HashedPassword, error) {
	if s == "" {
		return nil, nil
	}
	algo, rest, ok := strings.Cut(s, "$")
	if !ok {
		return nil, skip(ReasonUnsupportedHash, "missing JPremium algorithm prefix")
	}
	switch strings.ToUpper(algo) {
	case "BCRYPT":
		if !isBCrypt(rest) {
			return nil, skip(ReasonUnsupportedHash, "malformed JPremium BCrypt hash")
		}
		return bcryptHash(rest), nil
	case "SHA256", "SHA512":
		salt, digest, ok := strings.Cut(rest, "$")
		if !ok || salt == "" {
			return nil, skip(ReasonUnsupportedHash, "malformed JPremium %s hash", algo)
		}
		id := hashing.SHA256
		if strings.EqualFold(algo, "SHA512") {
			id = hashing.SHA512
		}
		return shaHash(id, digest, salt)
	}
	return nil, skip(ReasonUnsupportedHash, "JPremium algorithm %q", algo)
}

// parseNLogin accepts nLogin's "$SHA512$digest$salt" and "$SHA256$digest$salt"
// (digest before salt) and modular-crypt BCrypt.
func parseNLogin(s string) (*hashing.HashedPassword, error) {
	if s == "" {
		return nil, nil
	}
	if isBCrypt(s) {
		return bcryptHash(s), nil
	}
	parts := strings.Split(s, "$")
	// "", algorithm, digest, salt
	if len(parts) != 4 || parts[0] != "" || parts[3] == "" {
		return nil, skip(ReasonUnsupportedHash, "unrecognized nLogin hash")
	}
	switch strings.ToUpper(parts[1]) {
	case "SHA512":
		return shaHash(hashing.SHA512, parts[2], parts[3])
	case "SHA256":
		return shaHash(hashing.SHA256, parts[2], parts[3])
	}
	return nil, skip(ReasonUnsupportedHash, "nLogin algorithm %q", parts[1])
}

// parseBCryptOnly is for sources whose plugin only ever wrote BCrypt.
func parseBCryptOnly(s string) (*hashing.HashedPassword, error) {
	switch {
	case s == "":
		return nil, nil
	case isBCrypt(s):
		return bcryptHash(s), nil
	}
	return nil, skip(ReasonUnsupportedHash, "expected a BCrypt hash")
}

// parseSaltedColumns handles sources that keep digest and salt in separate
// columns under a single declared algorithm.
func parseSaltedColumns(algorithm, digest, salt string) (*hashing.HashedPassword, error) {
	if digest == "" {
		return nil, nil
	}
	if salt == "" {
		return nil, skip(ReasonUnsupportedHash, "missing salt")
	}
	return shaHash(algorithm, digest, salt)
}
