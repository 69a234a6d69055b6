// Package conflict provides conflict resolution for multi-device habit synchronization.
//
// Scalar habit fields follow last-write-wins; the per-day collections
// (completions, notes, moods) are merged by union so no device's history is lost.
package conflict

import (
	"sort"
	"time"

	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
)

// Side identifies which copy supplied the scalar fields.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Resolver merges local and remote copies of a habit.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a Resolver stamping merges with the wall clock.
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// NewResolverWithClock creates a Resolver with a custom time source.
func NewResolverWithClock(now func() time.Time) *Resolver {
	return &Resolver{now: now}
}

// ResolveResult represents the outcome of resolving one pair.
type ResolveResult struct {
	Merged      *models.Habit
	Winner      Side // side that supplied the scalar fields
	ConflictLog *models.ConflictLog
}

// Resolve merges local and remote into a single habit.
//
// The side with the greater or equal last-modified time (ties favor local)
// supplies every scalar field. Completions, notes and moods are unioned by
// date with MergeCompletions, MergeNotes and MergeMoods. The result is
// stamped with a fresh UpdatedAt.
func (r *Resolver) Resolve(local, remote *models.Habit) (*ResolveResult, error) {
	if local == nil || remote == nil {
		return nil, ErrInvalidConflict
	}
	if local.ID != remote.ID {
		return nil, ErrItemIDMismatch
	}

	localTS := local.LastModified().UnixMilli()
	remoteTS := remote.LastModified().UnixMilli()

	winner, newer := SideLocal, local
	if remoteTS > localTS {
		winner, newer = SideRemote, remote
	}

	now := r.now()
	merged := newer.Clone()
	merged.Completions = MergeCompletions(local.Completions, remote.Completions)
	merged.Notes = MergeNotes(local.Notes, remote.Notes)
	merged.Moods = MergeMoods(local.Moods, remote.Moods)
	merged.Touch(now)

	conflictLog := &models.ConflictLog{
		ItemID:          local.ID,
		LocalTimestamp:  localTS,
		RemoteTimestamp: remoteTS,
		Resolution:      string(winner) + "_wins",
		DetectedAt:      now.UnixMilli(),
	}

	logging.Debug("Habit conflict resolved",
		map[string]interface{}{
			"habit_id":         local.ID,
			"winner_side":      winner,
			"local_timestamp":  localTS,
			"remote_timestamp": remoteTS,
			"completions":      len(merged.Completions),
		})

	return &ResolveResult{
		Merged:      merged,
		Winner:      winner,
		ConflictLog: conflictLog,
	}, nil
}

// SyncHabits reconciles two habit lists by id. Habits present on both sides
// are resolved pairwise; one-sided habits are kept as they are, except that a
// local-only habit without UpdatedAt is stamped. Results are ordered by id.
func (r *Resolver) SyncHabits(local, remote []models.Habit) []models.Habit {
	localByID := indexByID(local)
	remoteByID := indexByID(remote)

	ids := make([]string, 0, len(localByID)+len(remoteByID))
	for id := range localByID {
		ids = append(ids, id)
	}
	for id := range remoteByID {
		if _, ok := localByID[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]models.Habit, 0, len(ids))
	for _, id := range ids {
		l, inLocal := localByID[id]
		rm, inRemote := remoteByID[id]

		switch {
		case inLocal && inRemote:
			res, err := r.Resolve(l, rm)
			if err != nil {
				// Unreachable for indexed pairs; keep local rather than drop data.
				logging.Error("Habit resolution failed", err, map[string]interface{}{"habit_id": id})
				out = append(out, *l.Clone())
				continue
			}
			out = append(out, *res.Merged)
		case inLocal:
			h := l.Clone()
			if h.UpdatedAt == nil {
				h.Touch(r.now())
			}
			out = append(out, *h)
		default:
			out = append(out, *rm.Clone())
		}
	}
	return out
}

// NeedsSync is a cheap pre-check before Resolve: it reports whether the
// last-modified times differ or the number of completion entries differs.
// It can fire for copies with identical content and miss copies that hold
// the same number of different dates.
func NeedsSync(local, remote *models.Habit) bool {
	if local == nil || remote == nil {
		return local != remote
	}
	if !local.LastModified().Equal(remote.LastModified()) {
		return true
	}
	return len(local.Completions) != len(remote.Completions)
}

func indexByID(habits []models.Habit) map[string]*models.Habit {
	m := make(map[string]*models.Habit, len(habits))
	for i := range habits {
		m[habits[i].ID] = &habits[i]
	}
	return m
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: both habits must be non-nil"}
	ErrItemIDMismatch  = &ConflictError{Message: "habit ID mismatch"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
