package queue

import (
	"sort"

	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
)

// Optimize collapses ops to at most one operation per entity and returns
// them sorted ascending by timestamp. Operations are folded in order:
//
//   - DELETE replaces whatever was recorded for the entity;
//   - UPDATE onto CREATE merges the patch into the CREATE snapshot and stays CREATE;
//   - UPDATE onto UPDATE merges both patches, incoming fields winning;
//   - anything else replaces the recorded operation.
//
// Optimize is deterministic and idempotent. The input slice is not modified.
func Optimize(ops []models.QueueOperation) []models.QueueOperation {
	byEntity := make(map[string]models.QueueOperation, len(ops))
	order := make([]string, 0, len(ops))

	for _, op := range ops {
		existing, seen := byEntity[op.EntityID]
		if !seen {
			order = append(order, op.EntityID)
			byEntity[op.EntityID] = op
			continue
		}
		byEntity[op.EntityID] = collapse(existing, op)
	}

	out := make([]models.QueueOperation, 0, len(order))
	for _, id := range order {
		out = append(out, byEntity[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// collapse folds incoming into existing for the same entity.
func collapse(existing, incoming models.QueueOperation) models.QueueOperation {
	if incoming.Type != models.OperationUpdate {
		return incoming
	}

	switch existing.Type {
	case models.OperationCreate:
		if len(incoming.Patch) == 0 && len(incoming.Entity) > 0 {
			existing.Entity = incoming.Entity
			existing.Timestamp = incoming.Timestamp
			return existing
		}
		merged, err := incoming.Patch.ApplyTo(existing.Entity)
		if err != nil {
			// Snapshot is not an object; keep the update on its own.
			logging.Warn("Cannot merge update into queued create, keeping update",
				map[string]interface{}{"entity_id": incoming.EntityID, "error": err.Error()})
			return incoming
		}
		existing.Entity = merged
		existing.Timestamp = incoming.Timestamp
		return existing

	case models.OperationUpdate:
		existing.Patch = existing.Patch.Merge(incoming.Patch)
		if len(incoming.Entity) > 0 {
			existing.Entity = incoming.Entity
		}
		existing.Timestamp = incoming.Timestamp
		return existing
	}

	return incoming
}
