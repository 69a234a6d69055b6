package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
)

func TestClient_Do(t *testing.T) {
	var gotAuth, gotMethod, gotPath, gotContentType string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"theme":"dark"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret")
	resp, err := c.Do(context.Background(), http.MethodPut, "/api/settings", map[string]string{"theme": "dark"})
	require.NoError(t, err)

	assert.True(t, resp.OK())
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/settings", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "dark", gotBody["theme"])

	var out map[string]string
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, "dark", out["theme"])
}

func TestClient_NonOKIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "").Do(context.Background(), http.MethodGet, "/api/settings", nil)
	require.NoError(t, err)

	assert.False(t, resp.OK())
	assert.True(t, resp.Unauthorized())
	assert.Equal(t, "nope", resp.Text())

	statusErr := StatusError(apperrors.ErrSyncFailed, "fetch settings", resp)
	assert.True(t, apperrors.Is(statusErr, apperrors.ErrAuthFailed))
	assert.Contains(t, statusErr.Error(), "status 403")
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "t").Do(context.Background(), http.MethodGet, "/api/habits", nil)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNetwork))
}

func TestClient_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL, "t").Do(ctx, http.MethodGet, "/", nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrNetwork))
}

func TestStatusError_KeepsCode(t *testing.T) {
	err := StatusError(apperrors.ErrSyncFailed, "push", &Response{StatusCode: 500})
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncFailed))
	assert.Equal(t, "[SYNC_FAILED] push: status 500", err.Error())
}
