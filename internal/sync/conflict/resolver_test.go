package conflict

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/habitnexus/backend/internal/models"
)

var (
	t0       = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	resolveT = time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
)

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

func newTestResolver() *Resolver {
	return NewResolverWithClock(func() time.Time { return resolveT })
}

func TestResolve_NewerScalarsWin(t *testing.T) {
	local := &models.Habit{ID: "h1", Name: "Read", Color: "blue", CreatedAt: t0, UpdatedAt: at(time.Hour)}
	remote := &models.Habit{ID: "h1", Name: "Read more", Color: "green", CreatedAt: t0, UpdatedAt: at(2 * time.Hour)}

	res, err := newTestResolver().Resolve(local, remote)
	require.NoError(t, err)

	assert.Equal(t, SideRemote, res.Winner)
	assert.Equal(t, "Read more", res.Merged.Name)
	assert.Equal(t, "green", res.Merged.Color)
	require.NotNil(t, res.Merged.UpdatedAt)
	assert.True(t, res.Merged.UpdatedAt.Equal(resolveT), "merge is stamped with the resolve time")

	assert.Equal(t, "h1", res.ConflictLog.ItemID)
	assert.Equal(t, "remote_wins", res.ConflictLog.Resolution)
	assert.Equal(t, at(time.Hour).UnixMilli(), res.ConflictLog.LocalTimestamp)
	assert.Equal(t, at(2*time.Hour).UnixMilli(), res.ConflictLog.RemoteTimestamp)
}

func TestResolve_TieFavorsLocal(t *testing.T) {
	local := &models.Habit{ID: "h1", Name: "local", CreatedAt: t0, UpdatedAt: at(time.Hour)}
	remote := &models.Habit{ID: "h1", Name: "remote", CreatedAt: t0, UpdatedAt: at(time.Hour)}

	res, err := newTestResolver().Resolve(local, remote)
	require.NoError(t, err)

	assert.Equal(t, SideLocal, res.Winner)
	assert.Equal(t, "local", res.Merged.Name)
}

func TestResolve_FallsBackToCreatedAt(t *testing.T) {
	local := &models.Habit{ID: "h1", Name: "local", CreatedAt: t0.Add(3 * time.Hour)}
	remote := &models.Habit{ID: "h1", Name: "remote", CreatedAt: t0, UpdatedAt: at(time.Hour)}

	res, err := newTestResolver().Resolve(local, remote)
	require.NoError(t, err)
	assert.Equal(t, SideLocal, res.Winner)
}

func TestResolve_MergesCollections(t *testing.T) {
	local := &models.Habit{
		ID: "h1", CreatedAt: t0, UpdatedAt: at(2 * time.Hour),
		Completions: map[string]models.Completion{"2024-05-01": models.Progress(3), "2024-05-02": models.Done(false)},
		Notes:       map[string]string{"2024-05-01": "tired", "2024-05-03": ""},
		Moods:       map[string]string{"2024-05-01": "meh"},
	}
	remote := &models.Habit{
		ID: "h1", CreatedAt: t0, UpdatedAt: at(time.Hour),
		Completions: map[string]models.Completion{"2024-05-01": models.Progress(5), "2024-05-02": models.Done(true), "2024-05-04": models.Done(true)},
		Notes:       map[string]string{"2024-05-01": "fresh", "2024-05-03": "remote note"},
		Moods:       map[string]string{"2024-05-02": "happy"},
	}

	res, err := newTestResolver().Resolve(local, remote)
	require.NoError(t, err)

	wantCompletions := map[string]models.Completion{
		"2024-05-01": models.Progress(5),
		"2024-05-02": models.Done(true),
		"2024-05-04": models.Done(true),
	}
	if diff := cmp.Diff(wantCompletions, res.Merged.Completions, cmp.AllowUnexported(models.Completion{})); diff != "" {
		t.Errorf("completions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]string{"2024-05-01": "tired", "2024-05-03": "remote note"}, res.Merged.Notes)
	assert.Equal(t, map[string]string{"2024-05-01": "meh", "2024-05-02": "happy"}, res.Merged.Moods)
}

func TestResolve_DoesNotMutateInputs(t *testing.T) {
	local := &models.Habit{ID: "h1", CreatedAt: t0, UpdatedAt: at(time.Hour),
		Completions: map[string]models.Completion{"2024-05-01": models.Done(true)}}
	remote := &models.Habit{ID: "h1", CreatedAt: t0, UpdatedAt: at(2 * time.Hour),
		Completions: map[string]models.Completion{"2024-05-02": models.Done(true)}}

	_, err := newTestResolver().Resolve(local, remote)
	require.NoError(t, err)

	assert.Len(t, local.Completions, 1)
	assert.Len(t, remote.Completions, 1)
	assert.True(t, remote.UpdatedAt.Equal(*at(2 * time.Hour)))
}

func TestResolve_Errors(t *testing.T) {
	r := newTestResolver()

	_, err := r.Resolve(nil, &models.Habit{ID: "x"})
	assert.Equal(t, ErrInvalidConflict, err)

	_, err = r.Resolve(&models.Habit{ID: "a"}, &models.Habit{ID: "b"})
	assert.Equal(t, ErrItemIDMismatch, err)
	assert.True(t, IsConflictError(err))
}

func TestMergeCompletions(t *testing.T) {
	tests := []struct {
		name   string
		local  models.Completion
		remote models.Completion
		want   models.Completion
	}{
		{"numeric max remote", models.Progress(2), models.Progress(7), models.Progress(7)},
		{"numeric max local", models.Progress(9), models.Progress(7), models.Progress(9)},
		{"bool or", models.Done(false), models.Done(true), models.Done(true)},
		{"bool both false", models.Done(false), models.Done(false), models.Done(false)},
		{"mixed keeps local", models.Done(false), models.Progress(4), models.Done(false)},
		{"mixed keeps local numeric", models.Progress(1), models.Done(true), models.Progress(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeCompletions(
				map[string]models.Completion{"d": tt.local},
				map[string]models.Completion{"d": tt.remote},
			)
			assert.Equal(t, tt.want, got["d"])
		})
	}
}

func TestMergeCompletions_Union(t *testing.T) {
	got := MergeCompletions(
		map[string]models.Completion{"a": models.Done(true)},
		map[string]models.Completion{"b": models.Progress(2)},
	)
	assert.Len(t, got, 2)
	assert.Nil(t, MergeCompletions(nil, nil))
}

func TestSyncHabits(t *testing.T) {
	local := []models.Habit{
		{ID: "c", Name: "local only", CreatedAt: t0},
		{ID: "a", Name: "shared local", CreatedAt: t0, UpdatedAt: at(2 * time.Hour)},
	}
	remote := []models.Habit{
		{ID: "a", Name: "shared remote", CreatedAt: t0, UpdatedAt: at(time.Hour)},
		{ID: "b", Name: "remote only", CreatedAt: t0, UpdatedAt: at(time.Hour)},
	}

	out := newTestResolver().SyncHabits(local, remote)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, "shared local", out[0].Name)
	assert.Equal(t, "remote only", out[1].Name)
	assert.True(t, out[1].UpdatedAt.Equal(*at(time.Hour)), "remote-only habits are untouched")
	require.NotNil(t, out[2].UpdatedAt, "local-only habit without UpdatedAt is stamped")
	assert.True(t, out[2].UpdatedAt.Equal(resolveT))
}

func TestSyncHabits_Empty(t *testing.T) {
	assert.Empty(t, newTestResolver().SyncHabits(nil, nil))
}

func TestNeedsSync(t *testing.T) {
	base := func() *models.Habit {
		return &models.Habit{ID: "h", CreatedAt: t0, UpdatedAt: at(time.Hour),
			Completions: map[string]models.Completion{"2024-05-01": models.Done(true)}}
	}

	assert.False(t, NeedsSync(base(), base()))

	newer := base()
	newer.UpdatedAt = at(2 * time.Hour)
	assert.True(t, NeedsSync(base(), newer))

	more := base()
	more.Completions["2024-05-02"] = models.Done(true)
	assert.True(t, NeedsSync(base(), more))

	// Same count, different dates: not detected.
	swapped := base()
	swapped.Completions = map[string]models.Completion{"2024-05-09": models.Done(true)}
	assert.False(t, NeedsSync(base(), swapped))

	assert.True(t, NeedsSync(base(), nil))
	assert.False(t, NeedsSync(nil, nil))
}
