// Package scheduler runs sync passes in the background: periodically while
// online, immediately after reconnecting, and on demand.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	syncpkg "github.com/kimhsiao/habitnexus/backend/internal/sync"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	syncInterval time.Duration
	retryBase    time.Duration
	retryMax     time.Duration
	syncTimeout  time.Duration

	triggerCh chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	lastSyncTime   time.Time
	syncInProgress bool
	failures       int
	nextAttempt    time.Time
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to sync when online (default: 5 minutes)
	RetryBase    time.Duration // First backoff after a failed pass (default: 5 seconds)
	RetryMax     time.Duration // Backoff ceiling (default: 10 minutes)
	SyncTimeout  time.Duration // Bound on a single pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 5 * time.Minute,
		RetryBase:    5 * time.Second,
		RetryMax:     10 * time.Minute,
		SyncTimeout:  5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler. Zero config fields take defaults.
func NewScheduler(engine syncpkg.SyncEngineInterface, config *SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	s := &Scheduler{
		engine:       engine,
		syncInterval: config.SyncInterval,
		retryBase:    config.RetryBase,
		retryMax:     config.RetryMax,
		syncTimeout:  config.SyncTimeout,
		triggerCh:    make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		isOnline:     true, // Assume online initially
	}
	if s.syncInterval <= 0 {
		s.syncInterval = def.SyncInterval
	}
	if s.retryBase <= 0 {
		s.retryBase = def.RetryBase
	}
	if s.retryMax <= 0 {
		s.retryMax = def.RetryMax
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = def.SyncTimeout
	}
	return s
}

// Start starts the background loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval_seconds": s.syncInterval.Seconds()})
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// Wait blocks until the background loop exits, either after Stop or after
// the context passed to Start is cancelled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// SetOnlineStatus records connectivity. Going from offline to online
// triggers an immediate pass that drains the queue.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	if !wasOnline && isOnline {
		s.failures = 0
		s.nextAttempt = time.Time{}
	}
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})
	if isOnline {
		s.signal()
	}
}

// TriggerSync asks the loop for an immediate pass.
// Returns false when offline or a pass is already running. During failure
// backoff triggers are refused too; the first tick after the backoff
// deadline runs the pass.
func (s *Scheduler) TriggerSync() bool {
	s.mu.RLock()
	busy := s.syncInProgress || !s.isOnline
	s.mu.RUnlock()
	if busy || s.inBackoff() {
		return false
	}
	s.signal()
	return true
}

func (s *Scheduler) signal() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.inBackoff() {
				logging.Debug("Sync in backoff, skipping tick", nil)
				continue
			}
			s.runSync(ctx, "periodic")
		case <-s.triggerCh:
			if s.inBackoff() {
				logging.Debug("Sync in backoff, skipping trigger", nil)
				continue
			}
			s.runSync(ctx, "triggered")
		}
	}
}

func (s *Scheduler) inBackoff() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.nextAttempt.IsZero() && time.Now().Before(s.nextAttempt)
}

// runSync executes one pass when online.
func (s *Scheduler) runSync(ctx context.Context, reason string) {
	s.mu.Lock()
	if !s.isOnline || s.syncInProgress {
		s.mu.Unlock()
		logging.Debug("Skipping sync", map[string]interface{}{"reason": reason, "online": s.IsOnline()})
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	_ = s.execute(ctx, reason)
}

func (s *Scheduler) execute(ctx context.Context, reason string) error {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		s.mu.Lock()
		s.failures++
		backoff := calculateBackoff(s.failures, s.retryBase, s.retryMax)
		s.nextAttempt = time.Now().Add(backoff)
		failures := s.failures
		s.mu.Unlock()

		logging.ErrorWithCode("Sync pass failed", string(errors.CodeOf(err)), err,
			map[string]interface{}{
				"reason":          reason,
				"failures":        failures,
				"backoff_seconds": backoff.Seconds(),
			})
		return err
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.failures = 0
	s.nextAttempt = time.Time{}
	s.mu.Unlock()

	logging.Info("Sync pass completed",
		map[string]interface{}{
			"reason":     reason,
			"flushed":    result.Flushed,
			"uploaded":   result.Uploaded,
			"downloaded": result.Downloaded,
			"conflicts":  result.Conflicts,
			"rejected":   result.Rejected,
		})
	return nil
}

// calculateBackoff returns base * 2^(failures-1), capped at ceiling.
func calculateBackoff(failures int, base, ceiling time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool
	IsOnline       bool
	LastSyncTime   *time.Time
	SyncInProgress bool
	Failures       int
	NextAttempt    *time.Time
	PendingItems   int
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress,
		Failures:       s.failures,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if !s.nextAttempt.IsZero() {
		t := s.nextAttempt
		status.NextAttempt = &t
	}
	s.mu.RUnlock()

	status.PendingItems = s.engine.PendingChanges()
	return status
}

// SyncNow runs a pass on the caller's goroutine and returns its error.
// It bypasses backoff but not the online check.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	s.mu.Lock()
	if !s.isOnline {
		s.mu.Unlock()
		return errors.New(errors.ErrNetwork, "scheduler is offline")
	}
	if s.syncInProgress {
		s.mu.Unlock()
		return errors.New(errors.ErrSyncFailed, "sync already in progress")
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	return s.execute(ctx, "manual")
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
