// Package storage provides the key-value store used for the offline queue,
// the habit cache and the settings cache on clients, and for per-user
// documents on the server.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/habitnexus/backend/internal/db"
	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
)

// UpdateFunc computes a new value from the current one. ok is false when
// the key is absent. Returning "" removes the key.
type UpdateFunc func(value string, ok bool) (string, error)

// Store is a string key-value store. Get reports ok=false for absent keys.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error

	// Update reads key, calls fn and writes its result as one atomic step,
	// also against other processes sharing the store. An error from fn
	// aborts the update and is returned unchanged. fn must not call the store.
	Update(key string, fn UpdateFunc) error
}

// Apply runs s.Update and classifies store failures: STORAGE_READ_ERROR
// when fn never ran, STORAGE_WRITE_ERROR after it did. Errors returned by
// fn pass through unchanged.
func Apply(s Store, key string, fn UpdateFunc) error {
	var called bool
	var fnErr error
	err := s.Update(key, func(value string, ok bool) (string, error) {
		called = true
		next, err := fn(value, ok)
		fnErr = err
		return next, err
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	case !called:
		return apperrors.Wrap(apperrors.ErrStorageRead, "read "+key, err)
	default:
		return apperrors.Wrap(apperrors.ErrStorageWrite, "write "+key, err)
	}
}

// SQLiteStore persists keys in the kv_store table under a namespace.
type SQLiteStore struct {
	db        *db.DB
	namespace string
}

// NewSQLiteStore creates a store scoped to namespace.
func NewSQLiteStore(database *db.DB, namespace string) *SQLiteStore {
	return &SQLiteStore{db: database, namespace: namespace}
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT value FROM kv_store WHERE namespace = ? AND key = ?",
		s.namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv_store (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.namespace, key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *SQLiteStore) Remove(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv_store WHERE namespace = ? AND key = ?", s.namespace, key); err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

// Update implements Store inside a BEGIN IMMEDIATE transaction, which takes
// the database write lock before reading. A second process updating the same
// file waits for the lock (busy_timeout) instead of overwriting this write.
func (s *SQLiteStore) Update(key string, fn UpdateFunc) (err error) {
	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin update of key %q: %w", key, err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	var old string
	ok := true
	err = conn.QueryRowContext(ctx,
		"SELECT value FROM kv_store WHERE namespace = ? AND key = ?",
		s.namespace, key,
	).Scan(&old)
	if errors.Is(err, sql.ErrNoRows) {
		ok, err = false, nil
	}
	if err != nil {
		return fmt.Errorf("failed to read key %q: %w", key, err)
	}

	next, err := fn(old, ok)
	if err != nil {
		return err
	}

	switch {
	case next == old && ok, next == "" && !ok:
		// unchanged
	case next == "":
		if _, err := conn.ExecContext(ctx,
			"DELETE FROM kv_store WHERE namespace = ? AND key = ?", s.namespace, key); err != nil {
			return fmt.Errorf("failed to remove key %q: %w", key, err)
		}
	default:
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO kv_store (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			s.namespace, key, next, time.Now().UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to write key %q: %w", key, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit key %q: %w", key, err)
	}
	committed = true
	return nil
}

// MemoryStore is a goroutine-safe in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores value under key.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Remove deletes key.
func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Update implements Store under the store lock.
func (m *MemoryStore) Update(key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.data[key]
	next, err := fn(old, ok)
	if err != nil {
		return err
	}
	if next == "" {
		delete(m.data, key)
	} else {
		m.data[key] = next
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
