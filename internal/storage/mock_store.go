// Package storage provides mock implementations for testing.
package storage

import (
	"errors"
	"sync"
)

// ErrInjected is returned by FaultyStore when a failure is switched on.
var ErrInjected = errors.New("injected storage failure")

// FaultyStore wraps a Store and fails or corrupts calls on demand.
type FaultyStore struct {
	Store

	mu         sync.Mutex
	failGet    bool
	failSet    bool
	failRemove bool
	dropWrites bool
	setCalls   int

	// updateMu makes Update atomic with respect to other Update calls.
	updateMu sync.Mutex
}

// NewFaultyStore wraps inner. With no failures enabled it behaves like inner.
func NewFaultyStore(inner Store) *FaultyStore {
	return &FaultyStore{Store: inner}
}

// FailGet makes Get return ErrInjected.
func (f *FaultyStore) FailGet(v bool) { f.mu.Lock(); f.failGet = v; f.mu.Unlock() }

// FailSet makes Set return ErrInjected.
func (f *FaultyStore) FailSet(v bool) { f.mu.Lock(); f.failSet = v; f.mu.Unlock() }

// FailRemove makes Remove return ErrInjected.
func (f *FaultyStore) FailRemove(v bool) { f.mu.Lock(); f.failRemove = v; f.mu.Unlock() }

// DropWrites makes Set report success without storing anything, simulating a
// write lost to an interrupted persist.
func (f *FaultyStore) DropWrites(v bool) { f.mu.Lock(); f.dropWrites = v; f.mu.Unlock() }

// SetCalls returns how many times Set was called.
func (f *FaultyStore) SetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls
}

// Get implements Store.
func (f *FaultyStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return "", false, ErrInjected
	}
	return f.Store.Get(key)
}

// Set implements Store.
func (f *FaultyStore) Set(key, value string) error {
	f.mu.Lock()
	f.setCalls++
	fail, drop := f.failSet, f.dropWrites
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	if drop {
		return nil
	}
	return f.Store.Set(key, value)
}

// Remove implements Store.
func (f *FaultyStore) Remove(key string) error {
	f.mu.Lock()
	fail := f.failRemove
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Store.Remove(key)
}

// Update implements Store on top of Get and Set so injected failures apply:
// FailGet fails before fn runs, FailSet and DropWrites after.
func (f *FaultyStore) Update(key string, fn UpdateFunc) error {
	f.updateMu.Lock()
	defer f.updateMu.Unlock()

	old, ok, err := f.Get(key)
	if err != nil {
		return err
	}
	next, err := fn(old, ok)
	if err != nil {
		return err
	}
	if next == "" {
		if !ok {
			return nil
		}
		return f.Remove(key)
	}
	return f.Set(key, next)
}
