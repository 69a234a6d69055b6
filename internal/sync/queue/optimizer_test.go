package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/habitnexus/backend/internal/models"
)

func patch(t *testing.T, fields map[string]interface{}) models.Patch {
	t.Helper()
	p, err := models.NewPatch(fields)
	require.NoError(t, err)
	return p
}

func snapshotName(t *testing.T, entity json.RawMessage) string {
	t.Helper()
	var h models.Habit
	require.NoError(t, json.Unmarshal(entity, &h))
	return h.Name
}

func TestOptimize_CreateThenUpdatesStaysCreate(t *testing.T) {
	ops := []models.QueueOperation{
		{ID: "1", Type: models.OperationCreate, EntityID: "x", Entity: json.RawMessage(`{"id":"x","name":"start","icon":"star"}`), Timestamp: 1},
		{ID: "2", Type: models.OperationUpdate, EntityID: "x", Patch: patch(t, map[string]interface{}{"name": "a"}), Timestamp: 2},
		{ID: "3", Type: models.OperationUpdate, EntityID: "x", Patch: patch(t, map[string]interface{}{"name": "b"}), Timestamp: 3},
	}

	out := Optimize(ops)

	require.Len(t, out, 1)
	assert.Equal(t, models.OperationCreate, out[0].Type)
	assert.Equal(t, "1", out[0].ID, "collapsed create keeps its id")
	assert.Equal(t, int64(3), out[0].Timestamp, "collapsed create takes the newest timestamp")
	assert.Equal(t, "b", snapshotName(t, out[0].Entity))

	var h models.Habit
	require.NoError(t, json.Unmarshal(out[0].Entity, &h))
	assert.Equal(t, "star", h.Icon, "fields outside the patch survive")
}

func TestOptimize_DeleteSupersedes(t *testing.T) {
	ops := []models.QueueOperation{
		{ID: "1", Type: models.OperationCreate, EntityID: "x", Entity: json.RawMessage(`{"id":"x"}`), Timestamp: 1},
		{ID: "2", Type: models.OperationUpdate, EntityID: "x", Patch: patch(t, map[string]interface{}{"name": "a"}), Timestamp: 2},
		{ID: "3", Type: models.OperationDelete, EntityID: "x", Timestamp: 3},
	}

	out := Optimize(ops)

	require.Len(t, out, 1)
	assert.Equal(t, models.OperationDelete, out[0].Type)
	assert.Equal(t, "3", out[0].ID)
}

func TestOptimize_UpdateThenUpdateMergesPatches(t *testing.T) {
	ops := []models.QueueOperation{
		{ID: "1", Type: models.OperationUpdate, EntityID: "x", Patch: patch(t, map[string]interface{}{"name": "a", "icon": "star"}), Timestamp: 5},
		{ID: "2", Type: models.OperationUpdate, EntityID: "x", Patch: patch(t, map[string]interface{}{"name": "b"}), Timestamp: 9},
	}

	out := Optimize(ops)

	require.Len(t, out, 1)
	assert.Equal(t, models.OperationUpdate, out[0].Type)
	assert.Equal(t, int64(9), out[0].Timestamp)
	assert.JSONEq(t, `"b"`, string(out[0].Patch["name"]))
	assert.JSONEq(t, `"star"`, string(out[0].Patch["icon"]))
}

func TestOptimize_OtherCombinationsReplace(t *testing.T) {
	tests := []struct {
		name     string
		first    models.OperationType
		second   models.OperationType
		wantType models.OperationType
	}{
		{"create after delete", models.OperationDelete, models.OperationCreate, models.OperationCreate},
		{"update after delete", models.OperationDelete, models.OperationUpdate, models.OperationUpdate},
		{"create after update", models.OperationUpdate, models.OperationCreate, models.OperationCreate},
		{"create after create", models.OperationCreate, models.OperationCreate, models.OperationCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := []models.QueueOperation{
				{ID: "1", Type: tt.first, EntityID: "x", Entity: json.RawMessage(`{"id":"x"}`), Timestamp: 1},
				{ID: "2", Type: tt.second, EntityID: "x", Entity: json.RawMessage(`{"id":"x","name":"new"}`), Timestamp: 2},
			}
			out := Optimize(ops)
			require.Len(t, out, 1)
			assert.Equal(t, tt.wantType, out[0].Type)
			assert.Equal(t, "2", out[0].ID)
		})
	}
}

func TestOptimize_SortsByTimestamp(t *testing.T) {
	ops := []models.QueueOperation{
		{ID: "a1", Type: models.OperationCreate, EntityID: "a", Entity: json.RawMessage(`{}`), Timestamp: 1},
		{ID: "b1", Type: models.OperationCreate, EntityID: "b", Entity: json.RawMessage(`{}`), Timestamp: 2},
		{ID: "a2", Type: models.OperationDelete, EntityID: "a", Timestamp: 3},
	}

	out := Optimize(ops)

	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].EntityID)
	assert.Equal(t, "a", out[1].EntityID)
}

func TestOptimize_Idempotent(t *testing.T) {
	ops := []models.QueueOperation{
		{ID: "1", Type: models.OperationCreate, EntityID: "x", Entity: json.RawMessage(`{"id":"x","name":"n"}`), Timestamp: 1},
		{ID: "2", Type: models.OperationUpdate, EntityID: "y", Patch: patch(t, map[string]interface{}{"name": "a"}), Timestamp: 2},
		{ID: "3", Type: models.OperationUpdate, EntityID: "x", Patch: patch(t, map[string]interface{}{"color": "red"}), Timestamp: 3},
		{ID: "4", Type: models.OperationDelete, EntityID: "z", Timestamp: 4},
		{ID: "5", Type: models.OperationUpdate, EntityID: "y", Patch: patch(t, map[string]interface{}{"icon": "i"}), Timestamp: 5},
	}

	once := Optimize(ops)
	twice := Optimize(once)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("Optimize is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestOptimize_DoesNotMutateInput(t *testing.T) {
	first := patch(t, map[string]interface{}{"name": "a"})
	ops := []models.QueueOperation{
		{ID: "1", Type: models.OperationUpdate, EntityID: "x", Patch: first, Timestamp: 1},
		{ID: "2", Type: models.OperationUpdate, EntityID: "x", Patch: patch(t, map[string]interface{}{"name": "b"}), Timestamp: 2},
	}

	Optimize(ops)

	assert.JSONEq(t, `"a"`, string(ops[0].Patch["name"]))
	assert.Equal(t, int64(1), ops[0].Timestamp)
}

func TestOptimize_Empty(t *testing.T) {
	assert.Empty(t, Optimize(nil))
}
