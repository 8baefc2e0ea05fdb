// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"slices"
	"sync"
)

// keyLock is a context-aware mutex shared by everyone waiting on one key.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// keyLocks provides mutual exclusion per key without a global lock.
// Entries are reference counted and removed when unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// Lock acquires every key, in sorted order so that callers locking
// overlapping sets cannot deadlock. On context cancellation the keys
// already held are released and ctx.Err() is returned.
func (k *keyLocks) Lock(ctx context.Context, keys ...string) (func(), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]string, 0, len(sorted))
	for _, key := range sorted {
		l := k.ref(key)
		select {
		case l.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			k.unref(key)
			k.release(held)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(held) })
	}, nil
}

func (k *keyLocks) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		k.mu.Lock()
		l := k.locks[keys[i]]
		k.mu.Unlock()
		<-l.ch
		k.unref(keys[i])
	}
}

func (k *keyLocks) ref(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyLocks) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// size returns the number of keys currently referenced.
func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
