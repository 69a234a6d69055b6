// Package telemetry keeps in-process sync statistics. Nothing is persisted
// or transmitted; the numbers only feed local logs.
package telemetry

import (
	"sync"
	"time"

	syncpkg "github.com/kimhsiao/habitnexus/backend/internal/sync"
)

// =====================================================
// Sync Statistics
// =====================================================

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Passes       int
	Failures     int
	Flushed      int
	Uploaded     int
	Downloaded   int
	Conflicts    int
	Rejected     int
	LastDuration time.Duration
	LastError    string
	LastSuccess  *time.Time
}

// Fields renders the snapshot as a logging context.
func (s Snapshot) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"passes":           s.Passes,
		"failures":         s.Failures,
		"flushed":          s.Flushed,
		"uploaded":         s.Uploaded,
		"downloaded":       s.Downloaded,
		"conflicts":        s.Conflicts,
		"rejected":         s.Rejected,
		"last_duration_ms": s.LastDuration.Milliseconds(),
	}
	if s.LastError != "" {
		f["last_error"] = s.LastError
	}
	if s.LastSuccess != nil {
		f["last_success"] = s.LastSuccess.UTC().Format(time.RFC3339)
	}
	return f
}

// SyncStats accumulates sync engine events. It implements
// sync.SyncEventHandler and can chain to another handler.
type SyncStats struct {
	mu   sync.Mutex
	snap Snapshot
	next syncpkg.SyncEventHandler
}

// NewSyncStats creates a SyncStats forwarding every event to next (may be nil).
func NewSyncStats(next syncpkg.SyncEventHandler) *SyncStats {
	return &SyncStats{next: next}
}

// OnSyncEvent records ev and forwards it.
func (s *SyncStats) OnSyncEvent(ev syncpkg.SyncEvent) {
	s.mu.Lock()
	switch ev.Type {
	case syncpkg.SyncEventCompleted:
		s.snap.Passes++
		s.addResult(ev.Result)
		t := ev.Timestamp
		if t.IsZero() {
			t = time.Now()
		}
		s.snap.LastSuccess = &t
		s.snap.LastError = ""
	case syncpkg.SyncEventFailed:
		s.snap.Passes++
		s.snap.Failures++
		s.addResult(ev.Result)
		if ev.Err != nil {
			s.snap.LastError = ev.Err.Error()
		}
	}
	s.mu.Unlock()

	if s.next != nil {
		s.next.OnSyncEvent(ev)
	}
}

// addResult folds a pass result in. Callers hold mu.
func (s *SyncStats) addResult(r *syncpkg.SyncResult) {
	if r == nil {
		return
	}
	s.snap.Flushed += r.Flushed
	s.snap.Uploaded += r.Uploaded
	s.snap.Downloaded += r.Downloaded
	s.snap.Conflicts += r.Conflicts
	s.snap.Rejected += r.Rejected
	s.snap.LastDuration = r.Duration
}

// Snapshot returns a copy of the current counters.
func (s *SyncStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	if out.LastSuccess != nil {
		t := *out.LastSuccess
		out.LastSuccess = &t
	}
	return out
}

// Reset zeroes the counters.
func (s *SyncStats) Reset() {
	s.mu.Lock()
	s.snap = Snapshot{}
	s.mu.Unlock()
}
