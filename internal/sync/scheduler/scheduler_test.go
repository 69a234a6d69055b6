// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	syncpkg "github.com/kimhsiao/habitnexus/backend/internal/sync"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =====================================================
// Test Helpers
// =====================================================

// fakeEngine counts passes and fails while failing is set.
type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	failing bool
	pending int
}

func (e *fakeEngine) Sync(ctx context.Context) (*syncpkg.SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failing {
		return nil, apperrors.New(apperrors.ErrNetwork, "offline")
	}
	e.pending = 0
	return &syncpkg.SyncResult{Flushed: 1}, nil
}

func (e *fakeEngine) SetEventHandler(syncpkg.SyncEventHandler) {}
func (e *fakeEngine) Status() syncpkg.SyncStatus               { return syncpkg.SyncStatusIdle }
func (e *fakeEngine) LastSync() *time.Time                     { return nil }
func (e *fakeEngine) LastError() error                         { return nil }

func (e *fakeEngine) PendingChanges() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

func (e *fakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *fakeEngine) SetFailing(v bool) {
	e.mu.Lock()
	e.failing = v
	e.mu.Unlock()
}

func createTestScheduler(t *testing.T, interval time.Duration) (*fakeEngine, *Scheduler) {
	t.Helper()
	engine := &fakeEngine{}
	s := NewScheduler(engine, &SchedulerConfig{
		SyncInterval: interval,
		RetryBase:    time.Hour,
		RetryMax:     2 * time.Hour,
	})
	return engine, s
}

// =====================================================
// Configuration Tests
// =====================================================

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	if config.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", config.SyncInterval)
	}
	if config.RetryBase != 5*time.Second {
		t.Errorf("RetryBase = %v, want 5s", config.RetryBase)
	}
}

func TestNewScheduler_FillsDefaults(t *testing.T) {
	s := NewScheduler(&fakeEngine{}, &SchedulerConfig{SyncInterval: time.Second})

	if s.syncInterval != time.Second {
		t.Errorf("syncInterval = %v, want 1s", s.syncInterval)
	}
	if s.retryMax != 10*time.Minute {
		t.Errorf("retryMax = %v, want default 10m", s.retryMax)
	}
	if !s.IsOnline() {
		t.Error("scheduler should start online")
	}
	if s.IsRunning() {
		t.Error("scheduler should not run before Start")
	}
}

func TestCalculateBackoff(t *testing.T) {
	base, ceiling := time.Second, 10*time.Second
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.failures, base, ceiling); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

// =====================================================
// Lifecycle Tests
// =====================================================

func TestStartStop(t *testing.T) {
	_, s := createTestScheduler(t, time.Hour)

	s.Start(context.Background())
	s.Start(context.Background()) // no-op
	if !s.IsRunning() {
		t.Fatal("scheduler should be running")
	}

	s.Stop()
	s.Stop() // no-op
	if s.IsRunning() {
		t.Error("scheduler should be stopped")
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	_, s := createTestScheduler(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx)
	cancel()
	s.Wait()

	if s.IsRunning() {
		t.Error("scheduler should stop when its context is cancelled")
	}
}

func TestPeriodicSync(t *testing.T) {
	engine, s := createTestScheduler(t, 10*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return engine.Calls() >= 2 })
}

func TestReconnectTriggersDrain(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	s.SetOnlineStatus(false)
	s.Start(context.Background())
	defer s.Stop()

	if s.TriggerSync() {
		t.Error("TriggerSync should refuse while offline")
	}

	s.SetOnlineStatus(true)
	waitFor(t, func() bool { return engine.Calls() == 1 })

	status := s.GetStatus()
	if status.LastSyncTime == nil {
		t.Error("LastSyncTime should be set after a successful pass")
	}
}

func TestTriggerSync(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	if !s.TriggerSync() {
		t.Fatal("TriggerSync should start a pass")
	}
	waitFor(t, func() bool { return engine.Calls() == 1 })
}

func TestFailureBacksOffPeriodicPasses(t *testing.T) {
	engine, s := createTestScheduler(t, 10*time.Millisecond)
	engine.SetFailing(true)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return engine.Calls() >= 1 })
	time.Sleep(50 * time.Millisecond)

	if calls := engine.Calls(); calls != 1 {
		t.Errorf("calls = %d, want 1 while backing off", calls)
	}
	status := s.GetStatus()
	if status.Failures != 1 || status.NextAttempt == nil {
		t.Errorf("status = %+v, want one failure with a next attempt", status)
	}
}

func TestTriggersRespectBackoff(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	engine.SetFailing(true)
	s.Start(context.Background())
	defer s.Stop()

	if !s.TriggerSync() {
		t.Fatal("TriggerSync should start the first pass")
	}
	waitFor(t, func() bool { return s.GetStatus().Failures == 1 })

	if s.TriggerSync() {
		t.Error("TriggerSync should refuse while backing off")
	}
	// A signal that bypasses TriggerSync is dropped by the loop as well.
	s.signal()
	time.Sleep(50 * time.Millisecond)
	if calls := engine.Calls(); calls != 1 {
		t.Errorf("calls = %d, want 1 while backing off", calls)
	}

	s.SetOnlineStatus(false)
	engine.SetFailing(false)
	s.SetOnlineStatus(true)
	waitFor(t, func() bool { return engine.Calls() == 2 })
}

func TestReconnectClearsBackoff(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)
	engine.SetFailing(true)

	if err := s.SyncNow(context.Background()); err == nil {
		t.Fatal("SyncNow should return the engine error")
	}
	if s.GetStatus().Failures != 1 {
		t.Fatal("failure should be counted")
	}

	s.SetOnlineStatus(false)
	s.SetOnlineStatus(true)

	if s.GetStatus().Failures != 0 {
		t.Error("reconnect should reset backoff")
	}
	// Drain the reconnect signal that no loop consumed.
	<-s.triggerCh
}

func TestSyncNow(t *testing.T) {
	engine, s := createTestScheduler(t, time.Hour)

	if err := s.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if engine.Calls() != 1 {
		t.Errorf("calls = %d, want 1", engine.Calls())
	}

	s.SetOnlineStatus(false)
	err := s.SyncNow(context.Background())
	if !apperrors.Is(err, apperrors.ErrNetwork) {
		t.Errorf("SyncNow() offline error = %v, want NETWORK_ERROR", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
