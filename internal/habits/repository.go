// Package habits holds the local habit cache and the service that records
// user mutations in the offline queue.
package habits

import (
	"encoding/json"
	"sort"
	"sync"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
)

// DefaultKey is the storage key holding the habit collection.
const DefaultKey = "habitnexus.habits"

// Repository persists habits as one JSON document keyed by habit id.
type Repository struct {
	mu    sync.Mutex
	store storage.Store
	key   string
}

// NewRepository creates a Repository over store.
func NewRepository(store storage.Store) *Repository {
	return &Repository{store: store, key: DefaultKey}
}

// NewRepositoryWithKey creates a Repository under a custom key. The server
// uses it to keep one collection per user.
func NewRepositoryWithKey(store storage.Store, key string) *Repository {
	return &Repository{store: store, key: key}
}

// List returns all habits ordered by id.
func (r *Repository) List() ([]models.Habit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]models.Habit, 0, len(all))
	for _, h := range all {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the habit with id, or a NOT_FOUND error.
func (r *Repository) Get(id string) (*models.Habit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return nil, err
	}
	h, ok := all[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "habit %s not found", id)
	}
	return h, nil
}

// Save inserts or replaces a habit.
func (r *Repository) Save(h *models.Habit) error {
	if h == nil || h.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "habit id is required")
	}
	return r.SaveAll([]models.Habit{*h})
}

// SaveAll inserts or replaces several habits in one write.
func (r *Repository) SaveAll(habits []models.Habit) error {
	for i := range habits {
		if habits[i].ID == "" {
			return apperrors.New(apperrors.ErrInvalid, "habit id is required")
		}
	}
	return r.mutate(func(all map[string]*models.Habit) (bool, error) {
		for i := range habits {
			all[habits[i].ID] = habits[i].Clone()
		}
		return len(habits) > 0, nil
	})
}

// Update loads the habit with id, lets fn modify it and stores the result,
// all in one store update. fn errors abort the update and are returned as is.
func (r *Repository) Update(id string, fn func(h *models.Habit) error) (*models.Habit, error) {
	var updated *models.Habit
	err := r.mutate(func(all map[string]*models.Habit) (bool, error) {
		current, ok := all[id]
		if !ok {
			return false, apperrors.Newf(apperrors.ErrNotFound, "habit %s not found", id)
		}
		h := current.Clone()
		if err := fn(h); err != nil {
			return false, err
		}
		h.ID = id
		all[id] = h
		updated = h.Clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a habit, or returns NOT_FOUND.
func (r *Repository) Delete(id string) error {
	return r.mutate(func(all map[string]*models.Habit) (bool, error) {
		if _, ok := all[id]; !ok {
			return false, apperrors.Newf(apperrors.ErrNotFound, "habit %s not found", id)
		}
		delete(all, id)
		return true, nil
	})
}

func (r *Repository) load() (map[string]*models.Habit, error) {
	raw, ok, err := r.store.Get(r.key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "read habits", err)
	}
	return decodeHabits(raw, ok)
}

func decodeHabits(raw string, ok bool) (map[string]*models.Habit, error) {
	all := make(map[string]*models.Habit)
	if !ok || raw == "" {
		return all, nil
	}
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "decode habits", err)
	}
	return all, nil
}

// mutate runs fn over the decoded collection inside one store update, so
// processes sharing the store cannot interleave their read-modify-write
// cycles. fn reports whether it changed anything.
func (r *Repository) mutate(fn func(all map[string]*models.Habit) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return storage.Apply(r.store, r.key, func(raw string, ok bool) (string, error) {
		all, err := decodeHabits(raw, ok)
		if err != nil {
			return "", err
		}
		changed, err := fn(all)
		if err != nil || !changed {
			return raw, err
		}
		data, err := json.Marshal(all)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrInternal, "encode habits", err)
		}
		return string(data), nil
	})
}
