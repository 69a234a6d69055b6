package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
	"github.com/kimhsiao/habitnexus/backend/internal/transport"
)

// fakeServer records pushes and serves a configurable GET response.
type fakeServer struct {
	mu        sync.Mutex
	getStatus int
	remote    *models.UserSettings
	putStatus int
	pushes    []models.UserSettings
	fetchErr  error
}

func (f *fakeServer) Do(_ context.Context, method, path string, body interface{}) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	switch method {
	case http.MethodGet:
		if f.getStatus != http.StatusOK {
			return &transport.Response{StatusCode: f.getStatus}, nil
		}
		data, _ := json.Marshal(f.remote)
		return &transport.Response{StatusCode: http.StatusOK, Body: data}, nil
	case http.MethodPut:
		f.pushes = append(f.pushes, *body.(*models.UserSettings))
		status := f.putStatus
		if status == 0 {
			status = http.StatusOK
		}
		return &transport.Response{StatusCode: status}, nil
	}
	return &transport.Response{StatusCode: http.StatusMethodNotAllowed}, nil
}

func (f *fakeServer) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func settingsAt(theme string, d time.Duration) *models.UserSettings {
	return &models.UserSettings{Theme: theme, Language: "en", UpdatedAt: base.Add(d)}
}

func TestSync_Bootstrap(t *testing.T) {
	srv := &fakeServer{getStatus: http.StatusNotFound}
	local := settingsAt("dark", 0)

	res := NewSyncer(srv).Sync(context.Background(), local)

	require.NoError(t, res.Err)
	assert.Equal(t, ActionBootstrap, res.Action)
	assert.True(t, res.Pushed)
	assert.Same(t, local, res.Settings)
	assert.True(t, res.Settings.UpdatedAt.Equal(base), "bootstrap must not touch updatedAt")
	require.Equal(t, 1, srv.pushCount())
	assert.Equal(t, "dark", srv.pushes[0].Theme)
}

func TestSync_TieMakesNoPush(t *testing.T) {
	srv := &fakeServer{getStatus: http.StatusOK, remote: settingsAt("light", 0)}
	local := settingsAt("dark", 0)

	res := NewSyncer(srv).Sync(context.Background(), local)

	assert.Equal(t, ActionUnchanged, res.Action)
	assert.Same(t, local, res.Settings)
	assert.Equal(t, 0, srv.pushCount())
}

func TestSync_LocalNewerPushes(t *testing.T) {
	srv := &fakeServer{getStatus: http.StatusOK, remote: settingsAt("light", 0)}
	local := settingsAt("dark", time.Minute)

	res := NewSyncer(srv).Sync(context.Background(), local)

	assert.Equal(t, ActionPushed, res.Action)
	assert.True(t, res.Pushed)
	assert.Equal(t, "dark", res.Settings.Theme)
	assert.Equal(t, 1, srv.pushCount())
}

func TestSync_RemoteNewerTakenWithoutPush(t *testing.T) {
	srv := &fakeServer{getStatus: http.StatusOK, remote: settingsAt("light", time.Minute)}

	res := NewSyncer(srv).Sync(context.Background(), settingsAt("dark", 0))

	assert.Equal(t, ActionPulled, res.Action)
	assert.Equal(t, "light", res.Settings.Theme)
	assert.Equal(t, 0, srv.pushCount())
}

func TestSync_AuthFailureIsDistinct(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := &fakeServer{getStatus: status}
		local := settingsAt("dark", 0)

		res := NewSyncer(srv).Sync(context.Background(), local)

		assert.Equal(t, ActionFailed, res.Action)
		assert.Same(t, local, res.Settings)
		assert.True(t, apperrors.Is(res.Err, apperrors.ErrAuthFailed), "status %d", status)
		assert.Equal(t, 0, srv.pushCount(), "no bootstrap push on auth failure")
	}
}

func TestSync_NetworkFailureKeepsLocal(t *testing.T) {
	srv := &fakeServer{fetchErr: apperrors.New(apperrors.ErrNetwork, "offline")}
	local := settingsAt("dark", 0)

	res := NewSyncer(srv).Sync(context.Background(), local)

	assert.Equal(t, ActionFailed, res.Action)
	assert.Same(t, local, res.Settings)
	assert.True(t, apperrors.Is(res.Err, apperrors.ErrNetwork))
}

func TestFetchRemote_OtherStatusIsAbsent(t *testing.T) {
	srv := &fakeServer{getStatus: http.StatusInternalServerError}

	remote, err := NewSyncer(srv).FetchRemote(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, remote)
}

func TestPushRemote_ReportsFailure(t *testing.T) {
	srv := &fakeServer{putStatus: http.StatusInternalServerError}
	assert.False(t, NewSyncer(srv).PushRemote(context.Background(), settingsAt("x", 0)))

	offline := &fakeServer{fetchErr: apperrors.New(apperrors.ErrNetwork, "offline")}
	assert.False(t, NewSyncer(offline).PushRemote(context.Background(), settingsAt("x", 0)))

	assert.False(t, NewSyncer(srv).PushRemote(context.Background(), nil))
}

func TestSyncCache_StoresPulledSettings(t *testing.T) {
	cache := NewCache(storage.NewMemoryStore())
	require.NoError(t, cache.Save(settingsAt("dark", 0)))
	srv := &fakeServer{getStatus: http.StatusOK, remote: settingsAt("light", time.Hour)}

	res := NewSyncer(srv).SyncCache(context.Background(), cache)
	require.NoError(t, res.Err)

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "light", cached.Theme)
}

func TestCache_LoadMissingAndCorrupt(t *testing.T) {
	store := storage.NewMemoryStore()
	cache := NewCache(store)

	s, err := cache.Load()
	assert.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, store.Set(CacheKey, "{"))
	_, err = cache.Load()
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageRead))

	assert.True(t, apperrors.Is(cache.Save(nil), apperrors.ErrInvalid))
}

func TestSync_OverHTTP(t *testing.T) {
	var pushes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, Path, r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			http.NotFound(w, r)
		case http.MethodPut:
			pushes++
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	res := NewSyncer(transport.NewClient(srv.URL, "token")).Sync(context.Background(), settingsAt("dark", 0))

	assert.Equal(t, ActionBootstrap, res.Action)
	assert.True(t, res.Pushed)
	assert.Equal(t, 1, pushes)
}
