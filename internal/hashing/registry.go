// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hashing

import (
	"sort"
	"sync"

	"github.com/samber/oops"
)

// dummyPassword is hashed once per registry so that verifications against
// unknown users spend the same time as verifications against real ones.
const dummyPassword = "gatekeeper-dummy-password"

// Registry maps algorithm identifiers to providers. New hashes always use the
// default provider; verification dispatches on the algorithm recorded with
// the stored hash.
type Registry struct {
	providers map[string]Provider
	def       Provider

	dummyOnce sync.Once
	dummy     HashedPassword
	dummyErr  error
}

// NewRegistry creates a registry with the given providers and default.
func NewRegistry(defaultID string, providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.providers[p.ID()]; dup {
			return nil, oops.Code("HASH_DUPLICATE_PROVIDER").
				With("algorithm", p.ID()).
				Errorf("provider %q registered twice", p.ID())
		}
		r.providers[p.ID()] = p
	}

	def, err := r.Lookup(defaultID)
	if err != nil {
		return nil, err
	}
	r.def = def
	return r, nil
}

// NewDefaultRegistry registers every built-in provider.
func NewDefaultRegistry(defaultID string, bcryptCost int) (*Registry, error) {
	return NewRegistry(defaultID,
		NewSHA256(),
		NewSHA512(),
		NewBCrypt(bcryptCost),
		NewArgon2id(),
	)
}

// Lookup returns the provider for id. Unknown ids fail closed.
func (r *Registry) Lookup(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, oops.Code("HASH_UNKNOWN_PROVIDER").
			With("algorithm", id).
			Errorf("unknown crypto provider %q", id)
	}
	return p, nil
}

// Default returns the provider used for new hashes.
func (r *Registry) Default() Provider {
	return r.def
}

// IDs lists the registered algorithm identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Hash hashes password with the default provider.
func (r *Registry) Hash(password string) (HashedPassword, error) {
	return r.def.Hash(password)
}

// Verify checks password against hashed using the provider recorded in
// hashed.Algorithm, never the current default.
func (r *Registry) Verify(password string, hashed HashedPassword) (bool, error) {
	p, err := r.Lookup(hashed.Algorithm)
	if err != nil {
		return false, err
	}
	return p.Verify(password, hashed)
}

// NeedsRehash reports whether hashed was produced by a provider other than
// the current default.
func (r *Registry) NeedsRehash(hashed HashedPassword) bool {
	return hashed.Algorithm != r.def.ID()
}

// VerifyDummy performs a verification against a throwaway hash and always
// reports a mismatch. Callers use it when the user does not exist.
func (r *Registry) VerifyDummy(password string) {
	r.dummyOnce.Do(func() {
		r.dummy, r.dummyErr = r.def.Hash(dummyPassword)
	})
	if r.dummyErr != nil {
		return
	}
	//nolint:errcheck // result intentionally discarded
	_, _ = r.def.Verify(password, r.dummy)
}
