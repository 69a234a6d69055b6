// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"
	"time"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Sync performs a full synchronization pass.
	// Returns the sync result with statistics or an error if the pass fails.
	Sync(ctx context.Context) (*SyncResult, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns the timestamp of the last successful sync.
	LastSync() *time.Time

	// PendingChanges returns the number of queued operations.
	PendingChanges() int

	// LastError returns the last error that occurred during sync.
	LastError() error
}

// SyncEventType identifies a sync notification.
type SyncEventType string

const (
	SyncEventStarted   SyncEventType = "sync_started"
	SyncEventProgress  SyncEventType = "sync_progress"
	SyncEventCompleted SyncEventType = "sync_completed"
	SyncEventFailed    SyncEventType = "sync_failed"
	SyncEventConflict  SyncEventType = "sync_conflict"
)

// SyncEvent is delivered to the registered SyncEventHandler.
type SyncEvent struct {
	Type      SyncEventType
	Message   string
	ItemID    string
	Completed int
	Total     int
	Result    *SyncResult
	Err       error
	Timestamp time.Time
}

// SyncEventHandler receives sync notifications.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}
