package settings

import (
	"context"
	"encoding/json"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
)

// CacheKey is the storage key of the local settings copy.
const CacheKey = "habitnexus.settings"

// Cache is the local settings copy on a key-value store.
type Cache struct {
	store storage.Store
}

// NewCache creates a Cache over store.
func NewCache(store storage.Store) *Cache {
	return &Cache{store: store}
}

// Load returns the cached settings, or nil when none are stored.
func (c *Cache) Load() (*models.UserSettings, error) {
	raw, ok, err := c.store.Get(CacheKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "read settings cache", err)
	}
	if !ok {
		return nil, nil
	}
	var s models.UserSettings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "decode settings cache", err)
	}
	return &s, nil
}

// Save replaces the cached settings.
func (c *Cache) Save(s *models.UserSettings) error {
	if s == nil {
		return apperrors.New(apperrors.ErrInvalid, "settings must not be nil")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "encode settings", err)
	}
	if err := c.store.Set(CacheKey, string(data)); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageWrite, "write settings cache", err)
	}
	return nil
}

// SyncCache runs Sync against the cached copy and stores the winner when
// the remote copy was taken. A cache read failure is reported without
// contacting the server.
func (s *Syncer) SyncCache(ctx context.Context, cache *Cache) Result {
	local, err := cache.Load()
	if err != nil {
		return Result{Action: ActionFailed, Err: err}
	}

	res := s.Sync(ctx, local)
	if res.Action == ActionPulled && res.Settings != nil {
		if err := cache.Save(res.Settings); err != nil {
			res.Err = err
		}
	}
	return res
}
