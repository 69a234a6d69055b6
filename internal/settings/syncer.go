// Package settings keeps the single user-settings object in step with the
// server using last-write-wins on UpdatedAt.
package settings

import (
	"context"
	"net/http"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/transport"
)

// Path is the server endpoint holding the settings document.
const Path = "/api/settings"

// Action names the branch a Sync call took.
type Action string

const (
	ActionBootstrap Action = "bootstrap" // no remote copy; local pushed
	ActionPushed    Action = "pushed"    // local newer; local pushed
	ActionPulled    Action = "pulled"    // remote newer; remote taken
	ActionUnchanged Action = "unchanged" // equal timestamps
	ActionFailed    Action = "failed"    // local kept; see Result.Err
)

// Result is the outcome of Sync. Settings is never nil when local was not nil.
type Result struct {
	Settings *models.UserSettings
	Action   Action
	Pushed   bool
	Err      error
}

// Syncer synchronizes settings through a transport.Fetcher.
type Syncer struct {
	fetcher transport.Fetcher
}

// NewSyncer creates a Syncer.
func NewSyncer(fetcher transport.Fetcher) *Syncer {
	return &Syncer{fetcher: fetcher}
}

// FetchRemote returns the server copy, or nil when none exists yet.
//
// A 401 or 403 returns an AUTH_FAILED error so callers can tell an expired
// session apart from a first login. Other non-2xx statuses are logged and
// reported as no remote copy. Transport failures return NETWORK_ERROR.
func (s *Syncer) FetchRemote(ctx context.Context) (*models.UserSettings, error) {
	resp, err := s.fetcher.Do(ctx, http.MethodGet, Path, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.OK():
		var remote models.UserSettings
		if err := resp.JSON(&remote); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSyncFailed, "decode remote settings", err)
		}
		return &remote, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.Unauthorized():
		return nil, transport.StatusError(apperrors.ErrAuthFailed, "fetch settings", resp)
	default:
		logging.Warn("Unexpected settings fetch response, treating as absent",
			map[string]interface{}{"status": resp.StatusCode, "body": resp.Text()})
		return nil, nil
	}
}

// PushRemote uploads settings and reports whether the server accepted them.
func (s *Syncer) PushRemote(ctx context.Context, settings *models.UserSettings) bool {
	if settings == nil {
		return false
	}
	resp, err := s.fetcher.Do(ctx, http.MethodPut, Path, settings)
	if err != nil {
		logging.Error("Settings push failed", err, nil)
		return false
	}
	if !resp.OK() {
		logging.Warn("Settings push rejected",
			map[string]interface{}{"status": resp.StatusCode, "body": resp.Text()})
		return false
	}
	return true
}

// Sync reconciles local with the server copy:
//
//   - no remote copy: push local and return it unchanged;
//   - local strictly newer: push local and return it;
//   - remote strictly newer: return remote without pushing;
//   - equal timestamps: return local without any push.
//
// Any failure returns local unchanged with the cause in Result.Err.
func (s *Syncer) Sync(ctx context.Context, local *models.UserSettings) Result {
	remote, err := s.FetchRemote(ctx)
	if err != nil {
		logging.ErrorWithCode("Settings sync failed, keeping local settings",
			string(apperrors.CodeOf(err)), err, nil)
		return Result{Settings: local, Action: ActionFailed, Err: err}
	}

	if local == nil {
		if remote == nil {
			return Result{Action: ActionUnchanged}
		}
		return Result{Settings: remote, Action: ActionPulled}
	}

	switch {
	case remote == nil:
		pushed := s.PushRemote(ctx, local)
		logging.Info("Bootstrapped remote settings", map[string]interface{}{"pushed": pushed})
		return Result{Settings: local, Action: ActionBootstrap, Pushed: pushed}
	case local.NewerThan(remote):
		pushed := s.PushRemote(ctx, local)
		return Result{Settings: local, Action: ActionPushed, Pushed: pushed}
	case remote.NewerThan(local):
		return Result{Settings: remote, Action: ActionPulled}
	default:
		return Result{Settings: local, Action: ActionUnchanged}
	}
}
