// Package queue provides the persisted offline operation queue.
package queue

import (
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
	"github.com/kimhsiao/habitnexus/backend/internal/uuid"
)

// DefaultKey is the storage key holding the serialized queue.
const DefaultKey = "habitnexus.offline-queue"

// LoadStatus distinguishes why a snapshot is empty.
type LoadStatus string

const (
	LoadOK     LoadStatus = "ok"
	LoadEmpty  LoadStatus = "empty"  // nothing persisted yet
	LoadFailed LoadStatus = "failed" // read or decode error, see Snapshot.Err
)

// Snapshot is the result of reading the persisted queue.
type Snapshot struct {
	Operations []models.QueueOperation
	Status     LoadStatus
	Err        error
}

// Input describes a mutation to record. ID and Timestamp are assigned by the queue.
type Input struct {
	Type     models.OperationType
	EntityID string
	Entity   json.RawMessage
	Patch    models.Patch
}

// QueueStore persists pending operations in a key-value store.
type QueueStore struct {
	store storage.Store
	key   string
	now   func() time.Time

	mu     sync.Mutex
	lastTS int64
}

// Option configures a QueueStore.
type Option func(*QueueStore)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(q *QueueStore) { q.key = key }
}

// WithClock overrides the time source used for operation timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *QueueStore) { q.now = now }
}

// NewQueueStore creates a QueueStore on top of store.
func NewQueueStore(store storage.Store, opts ...Option) *QueueStore {
	q := &QueueStore{
		store: store,
		key:   DefaultKey,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue records a mutation, re-optimizes the queue and persists it.
// It returns the operation left in the queue for the entity, which may be
// a collapsed form of earlier operations. The read, optimize and write run
// as one store update, so concurrent writers in other processes are not lost.
func (q *QueueStore) Enqueue(in Input) (*models.QueueOperation, error) {
	if !in.Type.Valid() {
		return nil, apperrors.Newf(apperrors.ErrQueueOperation, "unknown operation type %q", in.Type)
	}
	if in.EntityID == "" {
		return nil, apperrors.New(apperrors.ErrQueueOperation, "entity id is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var op models.QueueOperation
	var ops []models.QueueOperation
	err := q.mutate(func(snap Snapshot) ([]models.QueueOperation, bool) {
		if snap.Status == LoadFailed {
			// An undecodable queue cannot be salvaged; start over.
			logging.Warn("Offline queue unreadable, starting from empty",
				map[string]interface{}{"key": q.key, "error": snap.Err.Error()})
		}
		op = models.QueueOperation{
			ID:        uuid.New(),
			Type:      in.Type,
			EntityID:  in.EntityID,
			Entity:    in.Entity,
			Patch:     in.Patch,
			Timestamp: q.nextTimestamp(snap.Operations),
		}
		ops = Optimize(append(snap.Operations, op))
		return ops, true
	})
	if err != nil {
		logging.ErrorWithCode("Failed to persist offline queue", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"operation": in.Type, "entity_id": in.EntityID})
		return nil, err
	}

	logging.Debug("Enqueued offline operation",
		map[string]interface{}{"operation": op.Type, "entity_id": op.EntityID, "queued": len(ops)})

	for i := range ops {
		if ops[i].EntityID == op.EntityID {
			survivor := ops[i]
			return &survivor, nil
		}
	}
	return &op, nil
}

// Dequeue removes the operation with the given id. Unknown ids are ignored.
func (q *QueueStore) Dequeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var readErr error
	err := q.mutate(func(snap Snapshot) ([]models.QueueOperation, bool) {
		if snap.Status == LoadFailed {
			readErr = snap.Err
			return nil, false
		}
		kept := make([]models.QueueOperation, 0, len(snap.Operations))
		for _, op := range snap.Operations {
			if op.ID != id {
				kept = append(kept, op)
			}
		}
		return kept, len(kept) != len(snap.Operations)
	})
	if readErr != nil {
		return readErr
	}
	if err != nil {
		logging.Error("Failed to persist offline queue after dequeue", err,
			map[string]interface{}{"operation_id": id})
		return err
	}
	return nil
}

// Clear empties the persisted queue.
func (q *QueueStore) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Remove(q.key); err != nil {
		logging.Error("Failed to clear offline queue", err, nil)
		return apperrors.Wrap(apperrors.ErrStorageWrite, "clear offline queue", err)
	}
	logging.Info("Offline queue cleared", nil)
	return nil
}

// Snapshot reads the persisted queue and reports how the read went.
func (q *QueueStore) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Pending returns the queued operations in timestamp order. Read failures
// are logged and reported as an empty queue.
func (q *QueueStore) Pending() []models.QueueOperation {
	snap := q.Snapshot()
	if snap.Status == LoadFailed {
		logging.Warn("Offline queue unreadable, treating as empty",
			map[string]interface{}{"key": q.key, "error": snap.Err.Error()})
	}
	return snap.Operations
}

// Size returns the number of queued operations.
func (q *QueueStore) Size() int {
	return len(q.Pending())
}

// HasPending reports whether any operation is queued.
func (q *QueueStore) HasPending() bool {
	return q.Size() > 0
}

// load must be called with q.mu held.
func (q *QueueStore) load() Snapshot {
	raw, ok, err := q.store.Get(q.key)
	if err != nil {
		return Snapshot{Status: LoadFailed, Err: apperrors.Wrap(apperrors.ErrStorageRead, "read offline queue", err)}
	}
	return decode(raw, ok)
}

func decode(raw string, ok bool) Snapshot {
	if !ok || raw == "" {
		return Snapshot{Status: LoadEmpty}
	}
	var ops []models.QueueOperation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return Snapshot{Status: LoadFailed, Err: apperrors.Wrap(apperrors.ErrStorageRead, "decode offline queue", err)}
	}
	if len(ops) == 0 {
		return Snapshot{Status: LoadEmpty}
	}
	return Snapshot{Operations: ops, Status: LoadOK}
}

// mutate applies fn to the stored queue in one store update. fn returns the
// new operations and whether anything changed. A store read failure is
// returned as STORAGE_READ_ERROR without calling fn. After the update the
// key is read back; finding the pre-update value means the write was lost.
// Must be called with q.mu held.
func (q *QueueStore) mutate(fn func(Snapshot) ([]models.QueueOperation, bool)) error {
	var before, after string
	changed := false
	err := storage.Apply(q.store, q.key, func(raw string, ok bool) (string, error) {
		ops, dirty := fn(decode(raw, ok))
		if !dirty {
			return raw, nil
		}
		before, after = raw, ""
		if len(ops) > 0 {
			data, err := json.Marshal(ops)
			if err != nil {
				return "", apperrors.Wrap(apperrors.ErrStorageWrite, "encode offline queue", err)
			}
			after = string(data)
		}
		changed = before != after
		return after, nil
	})
	if err != nil || !changed {
		return err
	}

	stored, _, err := q.store.Get(q.key)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageWrite, "verify offline queue", err)
	}
	if stored == before {
		return apperrors.Newf(apperrors.ErrStorageWrite, "offline queue verification failed for key %q", q.key)
	}
	return nil
}

// nextTimestamp returns a millisecond timestamp strictly greater than any
// already assigned. Must be called with q.mu held.
func (q *QueueStore) nextTimestamp(existing []models.QueueOperation) int64 {
	for _, op := range existing {
		if op.Timestamp > q.lastTS {
			q.lastTS = op.Timestamp
		}
	}
	ts := q.now().UnixMilli()
	if ts <= q.lastTS {
		ts = q.lastTS + 1
	}
	q.lastTS = ts
	return ts
}
