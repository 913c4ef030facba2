// Package scheduler runs sequencer ticks on a cron schedule inside a
// long-lived process.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/sequencer"
)

// Advancer is the tick target.
type Advancer interface {
	Advance(ctx context.Context) (sequencer.Report, error)
}

// Scheduler invokes Advance on every schedule fire. Overlapping fires are
// skipped while a tick is still running.
type Scheduler struct {
	spec     string
	advancer Advancer
	logger   *zap.Logger
	cron     *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ticks  int
}

// New validates spec and constructs a stopped Scheduler.
func New(spec string, advancer Advancer, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		spec:     spec,
		advancer: advancer,
		logger:   logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
	}
	if _, err := s.cron.AddFunc(spec, s.Tick); err != nil {
		return nil, fmt.Errorf("register tick: %w", err)
	}
	return s, nil
}

// Start begins firing ticks. Ticks run under ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.spec))
}

// Stop halts the schedule and waits for a running tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped", zap.Int("ticks", s.Ticks()))
}

// Tick runs a single Advance. It is exported so callers can fire one
// immediately, e.g. on a local trigger.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.ticks++
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	report, err := s.advancer.Advance(ctx)
	if err != nil {
		s.logger.Error("scheduled tick failed", zap.Error(err))
		return
	}
	if report.Claimed == 0 && report.Stale == 0 {
		return
	}
	s.logger.Info("scheduled tick",
		zap.Int("claimed", report.Claimed),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("retried", report.Retried),
		zap.Duration("duration", time.Since(start)),
	)
}

// Ticks returns how many times Tick has been invoked.
func (s *Scheduler) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}
