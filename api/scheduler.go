/*
scheduler.go - Automatic scheme expiry

PURPOSE:
  Periodically expires active scheme versions whose validity has ended.
  Each expiry goes through WorkflowService.ExpireDue, so it appends an
  approval record with actor "system" like any other transition.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on Start, then on every tick
  - A failed run is logged and retried on the next tick

USAGE:
  scheduler := NewExpiryScheduler(handler.Workflow, logger)
  scheduler.CheckInterval = cfg.ExpiryInterval
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerExpiry endpoint (manual run)
  - engine/workflow_service.go: ExpireDue
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
)

// ExpiryScheduler expires schemes past their end date.
type ExpiryScheduler struct {
	Workflow      *engine.WorkflowService
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	Clock         func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a scheduler checking once an hour.
func NewExpiryScheduler(workflow *engine.WorkflowService, logger *zap.Logger) *ExpiryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryScheduler{
		Workflow:      workflow,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *ExpiryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("expiry scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Logger.Info("expiry scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("expiry scheduler stopped")
}

func (s *ExpiryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce performs one expiry check and returns the expired versions.
func (s *ExpiryScheduler) RunOnce(ctx context.Context) []engine.SchemeRef {
	now := time.Now()
	if s.Clock != nil {
		now = s.Clock()
	}
	today := engine.DateOf(now)

	expired, err := s.Workflow.ExpireDue(ctx, today)
	for _, ref := range expired {
		s.Logger.Info("scheme expired",
			zap.String("scheme_id", string(ref.SchemeID)),
			zap.Int("version", ref.Version))
	}
	if err != nil {
		s.Logger.Error("expiry run failed", zap.Stringer("today", today), zap.Error(err))
		return expired
	}
	s.Logger.Info("expiry run complete", zap.Stringer("today", today), zap.Int("expired", len(expired)))
	return expired
}
