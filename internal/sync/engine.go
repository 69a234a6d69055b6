// Package sync drains the offline queue to the server and reconciles the
// local habit cache with the server copy.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/habits"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/sync/conflict"
	"github.com/kimhsiao/habitnexus/backend/internal/sync/queue"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// maxErrorHistory bounds the per-item error history.
const maxErrorHistory = 100

// SyncResult represents the result of a sync pass.
type SyncResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Flushed    int // queued operations acknowledged by the server
	Uploaded   int // merged or local-only habits pushed
	Downloaded int // remote habits written locally
	Conflicts  int // pairs resolved by the conflict resolver
	Rejected   int // queued operations the server refused for good
	Error      string
}

// SyncErrorEntry records one failed item.
type SyncErrorEntry struct {
	ItemID    string
	Operation string
	Error     string
	Timestamp time.Time
}

// Engine runs sync passes. Only one pass runs at a time.
type Engine struct {
	queue    *queue.QueueStore
	repo     *habits.Repository
	backend  Backend
	resolver *conflict.Resolver

	mu           sync.Mutex
	status       SyncStatus
	lastSync     *time.Time
	lastErr      error
	handler      SyncEventHandler
	errorHistory []SyncErrorEntry
}

// NewEngine creates an Engine.
func NewEngine(q *queue.QueueStore, repo *habits.Repository, backend Backend) *Engine {
	return &Engine{
		queue:    q,
		repo:     repo,
		backend:  backend,
		resolver: conflict.NewResolver(),
		status:   SyncStatusIdle,
	}
}

// SetResolver replaces the conflict resolver.
func (e *Engine) SetResolver(r *conflict.Resolver) {
	e.resolver = r
}

// SetEventHandler implements SyncEngineInterface. A nil handler disables events.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

// Status returns the current sync status.
func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSync returns the timestamp of the last successful sync.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// PendingChanges returns the number of queued operations.
func (e *Engine) PendingChanges() int {
	return e.queue.Size()
}

// LastError returns the last sync error.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// GetErrorHistory returns a copy of the recorded item errors, oldest first.
func (e *Engine) GetErrorHistory() []SyncErrorEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SyncErrorEntry, len(e.errorHistory))
	copy(out, e.errorHistory)
	return out
}

// Sync performs a full pass:
//
//  1. flush queued operations oldest first, stopping at the first failure;
//  2. download the server habits;
//  3. reconcile the local cache with them and push the merged results.
//
// A pass started while another is running fails immediately.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.status == SyncStatusSyncing {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncFailed, "sync already in progress")
	}
	e.status = SyncStatusSyncing
	e.mu.Unlock()

	result := &SyncResult{StartTime: time.Now()}
	e.emitEvent(SyncEvent{Type: SyncEventStarted, Message: "Sync started"})

	err := e.run(ctx, result)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.lastErr = err
	if err != nil {
		e.status = SyncStatusFailed
		result.Error = err.Error()
	} else {
		e.status = SyncStatusIdle
		end := result.EndTime
		e.lastSync = &end
	}
	e.mu.Unlock()

	if err != nil {
		logging.ErrorWithCode("Sync pass failed", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"flushed": result.Flushed, "pending": e.queue.Size()})
		e.emitEvent(SyncEvent{Type: SyncEventFailed, Message: err.Error(), Result: result, Err: err})
		return result, err
	}

	logging.Info("Sync pass completed", map[string]interface{}{
		"flushed":     result.Flushed,
		"uploaded":    result.Uploaded,
		"downloaded":  result.Downloaded,
		"conflicts":   result.Conflicts,
		"duration_ms": result.Duration.Milliseconds(),
	})
	e.emitEvent(SyncEvent{Type: SyncEventCompleted, Message: "Sync completed", Result: result})
	return result, nil
}

func (e *Engine) run(ctx context.Context, result *SyncResult) error {
	if err := e.flushQueue(ctx, result); err != nil {
		return err
	}
	return e.reconcile(ctx, result)
}

// flushQueue sends queued operations in timestamp order and dequeues each
// one the server acknowledged.
func (e *Engine) flushQueue(ctx context.Context, result *SyncResult) error {
	snap := e.queue.Snapshot()
	if snap.Status == queue.LoadFailed {
		logging.Warn("Offline queue unreadable, skipping flush",
			map[string]interface{}{"error": snap.Err.Error()})
		return nil
	}

	total := len(snap.Operations)
	for i := range snap.Operations {
		op := &snap.Operations[i]
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.ErrSyncFailed, "sync cancelled", err)
		}

		if err := e.pushOperation(ctx, op); err != nil {
			e.recordError(op.EntityID, string(op.Type), err)
			if !IsRejected(err) && !apperrors.Is(err, apperrors.ErrQueueOperation) {
				return err
			}
			// Retrying cannot succeed; move on so later operations are not stuck.
			if err := e.discard(op, err); err != nil {
				return err
			}
			result.Rejected++
			e.emitEvent(SyncEvent{Type: SyncEventProgress, ItemID: op.EntityID, Completed: i + 1, Total: total})
			continue
		}
		if err := e.queue.Dequeue(op.ID); err != nil {
			return err
		}
		result.Flushed++
		e.emitEvent(SyncEvent{Type: SyncEventProgress, ItemID: op.EntityID, Completed: i + 1, Total: total})
	}
	return nil
}

// discard removes an operation that can never be applied. An UPDATE for a
// habit the server no longer has is dropped and reconcile settles the habit;
// anything else goes to the queue's rejected list.
func (e *Engine) discard(op *models.QueueOperation, cause error) error {
	if op.Type == models.OperationUpdate && apperrors.Is(cause, apperrors.ErrNotFound) {
		logging.Info("Habit no longer on server, dropping queued update",
			map[string]interface{}{"operation_id": op.ID, "habit_id": op.EntityID})
		return e.queue.Dequeue(op.ID)
	}
	return e.queue.Reject(*op, cause.Error())
}

func (e *Engine) pushOperation(ctx context.Context, op *models.QueueOperation) error {
	switch op.Type {
	case models.OperationCreate:
		h, err := decodeHabit(op.Entity)
		if err != nil {
			return err
		}
		return e.backend.PutHabit(ctx, h)
	case models.OperationUpdate:
		if len(op.Patch) == 0 && len(op.Entity) > 0 {
			h, err := decodeHabit(op.Entity)
			if err != nil {
				return err
			}
			return e.backend.PutHabit(ctx, h)
		}
		return e.backend.PatchHabit(ctx, op.EntityID, op.Patch)
	case models.OperationDelete:
		return e.backend.DeleteHabit(ctx, op.EntityID)
	}
	return apperrors.Newf(apperrors.ErrQueueOperation, "unknown operation type %q", op.Type)
}

// reconcile merges the local cache with the server copy. Pairs that
// NeedsSync reports as equal are left alone; one-sided habits are copied
// to the side missing them.
func (e *Engine) reconcile(ctx context.Context, result *SyncResult) error {
	remote, err := e.backend.ListHabits(ctx)
	if err != nil {
		return err
	}
	local, err := e.repo.List()
	if err != nil {
		return err
	}

	remoteByID := make(map[string]*models.Habit, len(remote))
	for i := range remote {
		remoteByID[remote[i].ID] = &remote[i]
	}
	localIDs := make(map[string]bool, len(local))

	var localCandidates, remoteCandidates []models.Habit
	for i := range local {
		l := &local[i]
		localIDs[l.ID] = true
		r, ok := remoteByID[l.ID]
		if !ok {
			localCandidates = append(localCandidates, *l)
			continue
		}
		if conflict.NeedsSync(l, r) {
			localCandidates = append(localCandidates, *l)
			remoteCandidates = append(remoteCandidates, *r)
			result.Conflicts++
		}
	}

	var downloaded []models.Habit
	for i := range remote {
		if !localIDs[remote[i].ID] {
			downloaded = append(downloaded, remote[i])
		}
	}

	merged := e.resolver.SyncHabits(localCandidates, remoteCandidates)

	if changed := append(downloaded, merged...); len(changed) > 0 {
		if err := e.repo.SaveAll(changed); err != nil {
			return err
		}
	}
	result.Downloaded = len(downloaded)
	if result.Conflicts > 0 {
		e.emitEvent(SyncEvent{Type: SyncEventConflict, Total: result.Conflicts, Message: "Merged diverged habits"})
	}

	for i := range merged {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.ErrSyncFailed, "sync cancelled", err)
		}
		if err := e.backend.PutHabit(ctx, &merged[i]); err != nil {
			e.recordError(merged[i].ID, "push", err)
			return err
		}
		result.Uploaded++
	}
	return nil
}

func decodeHabit(entity json.RawMessage) (*models.Habit, error) {
	var h models.Habit
	if err := json.Unmarshal(entity, &h); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueueOperation, "decode queued habit", err)
	}
	return &h, nil
}

func (e *Engine) recordError(itemID, operation string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errorHistory = append(e.errorHistory, SyncErrorEntry{
		ItemID:    itemID,
		Operation: operation,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
	if len(e.errorHistory) > maxErrorHistory {
		e.errorHistory = e.errorHistory[len(e.errorHistory)-maxErrorHistory:]
	}
}

func (e *Engine) emitEvent(event SyncEvent) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()

	if handler == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	handler.OnSyncEvent(event)
}
