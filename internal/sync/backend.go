package sync

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/transport"
)

// HabitsPath is the server collection endpoint.
const HabitsPath = "/api/habits"

// Backend is the remote side of a sync pass.
type Backend interface {
	// ListHabits returns every habit stored on the server.
	ListHabits(ctx context.Context) ([]models.Habit, error)

	// PutHabit stores a full habit snapshot.
	PutHabit(ctx context.Context, h *models.Habit) error

	// PatchHabit applies a partial update to a stored habit. Patching a
	// habit the server does not have fails with a RejectedError carrying
	// NOT_FOUND.
	PatchHabit(ctx context.Context, id string, patch models.Patch) error

	// DeleteHabit removes a habit. Deleting an absent habit succeeds.
	DeleteHabit(ctx context.Context, id string) error
}

// RejectedError is a refusal the server will repeat on every retry, such as
// a 400 for a malformed body or a 404 for a habit deleted remotely.
type RejectedError struct {
	Status int
	Err    error
}

func (e *RejectedError) Error() string { return e.Err.Error() }

func (e *RejectedError) Unwrap() error { return e.Err }

// IsRejected reports whether err is, or wraps, a RejectedError.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return stderrors.As(err, &rejected)
}

// HTTPBackend implements Backend over the HabitNexus REST API.
type HTTPBackend struct {
	fetcher transport.Fetcher
}

// NewHTTPBackend creates an HTTPBackend.
func NewHTTPBackend(fetcher transport.Fetcher) *HTTPBackend {
	return &HTTPBackend{fetcher: fetcher}
}

func habitPath(id string) string {
	return HabitsPath + "/" + url.PathEscape(id)
}

// ListHabits implements Backend.
func (b *HTTPBackend) ListHabits(ctx context.Context) ([]models.Habit, error) {
	resp, err := b.fetcher.Do(ctx, http.MethodGet, HabitsPath, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, transport.StatusError(apperrors.ErrSyncFailed, "list habits", resp)
	}
	var habits []models.Habit
	if err := resp.JSON(&habits); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncFailed, "decode habits", err)
	}
	return habits, nil
}

// PutHabit implements Backend.
func (b *HTTPBackend) PutHabit(ctx context.Context, h *models.Habit) error {
	return b.send(ctx, http.MethodPut, h.ID, h, false)
}

// PatchHabit implements Backend.
func (b *HTTPBackend) PatchHabit(ctx context.Context, id string, patch models.Patch) error {
	return b.send(ctx, http.MethodPatch, id, patch, false)
}

// DeleteHabit implements Backend.
func (b *HTTPBackend) DeleteHabit(ctx context.Context, id string) error {
	return b.send(ctx, http.MethodDelete, id, nil, true)
}

func (b *HTTPBackend) send(ctx context.Context, method, id string, body interface{}, notFoundOK bool) error {
	resp, err := b.fetcher.Do(ctx, method, habitPath(id), body)
	if err != nil {
		return err
	}
	if resp.OK() || (notFoundOK && resp.StatusCode == http.StatusNotFound) {
		return nil
	}
	op := method + " habit " + id
	if resp.StatusCode == http.StatusNotFound {
		return &RejectedError{Status: resp.StatusCode, Err: transport.StatusError(apperrors.ErrNotFound, op, resp)}
	}
	if permanent(resp.StatusCode) {
		return &RejectedError{Status: resp.StatusCode, Err: transport.StatusError(apperrors.ErrSyncFailed, op, resp)}
	}
	return transport.StatusError(apperrors.ErrSyncFailed, op, resp)
}

// permanent reports whether a status will not change on retry. Auth
// failures, timeouts and throttling are left retryable.
func permanent(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}
