package queue

import (
	"encoding/json"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
)

// MaxRejected bounds the dead-letter list; the oldest entries are dropped first.
const MaxRejected = 100

// RejectedOperation is a queued operation the server refused permanently.
type RejectedOperation struct {
	Operation  models.QueueOperation `json:"operation"`
	Reason     string                `json:"reason"`
	RejectedAt int64                 `json:"rejectedAt"`
}

func (q *QueueStore) rejectedKey() string {
	return q.key + ".rejected"
}

// Reject moves op from the queue to the dead-letter list so later
// operations can be flushed. Rejecting the same operation twice keeps
// one entry.
func (q *QueueStore) Reject(op models.QueueOperation, reason string) error {
	q.mu.Lock()
	err := storage.Apply(q.store, q.rejectedKey(), func(raw string, ok bool) (string, error) {
		list := decodeRejected(raw, ok)
		for _, r := range list {
			if r.Operation.ID == op.ID {
				return raw, nil
			}
		}
		list = append(list, RejectedOperation{Operation: op, Reason: reason, RejectedAt: q.now().UnixMilli()})
		if len(list) > MaxRejected {
			list = list[len(list)-MaxRejected:]
		}
		data, err := json.Marshal(list)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrStorageWrite, "encode rejected operations", err)
		}
		return string(data), nil
	})
	q.mu.Unlock()
	if err != nil {
		logging.Error("Failed to record rejected operation", err,
			map[string]interface{}{"operation_id": op.ID, "entity_id": op.EntityID})
		return err
	}

	logging.Warn("Offline operation rejected by server", map[string]interface{}{
		"operation_id": op.ID,
		"operation":    op.Type,
		"entity_id":    op.EntityID,
		"reason":       reason,
	})
	return q.Dequeue(op.ID)
}

// Rejected returns the dead-letter list, oldest first.
func (q *QueueStore) Rejected() ([]RejectedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	raw, ok, err := q.store.Get(q.rejectedKey())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageRead, "read rejected operations", err)
	}
	return decodeRejected(raw, ok), nil
}

// ClearRejected empties the dead-letter list.
func (q *QueueStore) ClearRejected() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Remove(q.rejectedKey()); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageWrite, "clear rejected operations", err)
	}
	return nil
}

// decodeRejected treats an unreadable list as empty; it is diagnostic only.
func decodeRejected(raw string, ok bool) []RejectedOperation {
	if !ok || raw == "" {
		return nil
	}
	var list []RejectedOperation
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		logging.Warn("Rejected operation list unreadable, discarding",
			map[string]interface{}{"error": err.Error()})
		return nil
	}
	return list
}
