// Package sequencer advances brand kit jobs one step per invocation. It is
// stateless between calls: all progress lives in the job store, and claims
// are the only mutual exclusion between concurrent invocations.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
	"github.com/JakeFAU/brandkit-crawler/internal/logging"
	"github.com/JakeFAU/brandkit-crawler/internal/metrics"
	"github.com/JakeFAU/brandkit-crawler/internal/steps"
	"github.com/JakeFAU/brandkit-crawler/internal/telemetry"
)

// Progress recorded after each stage.
const (
	ProgressFetched   = 20
	ProgressRendered  = 50
	ProgressGenerated = 70
	ProgressFinalized = 95
)

// persistTimeout bounds outcome writes, which run even after the invocation
// budget is spent so a finished step is never lost.
const persistTimeout = 5 * time.Second

// Notifier is told about every job that reaches a terminal state.
type Notifier interface {
	Notify(ctx context.Context, job brandkit.Job, assetCount int)
}

// Config tunes claim batches, budgets and retries.
type Config struct {
	BatchSize        int
	Concurrency      int
	InvocationBudget time.Duration
	Lease            time.Duration
	StaleAfter       time.Duration
	ReuseWindow      time.Duration
	Topic            string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.Concurrency <= 0 {
		c.Concurrency = c.BatchSize
	}
	if c.InvocationBudget <= 0 {
		c.InvocationBudget = 25 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 2 * c.InvocationBudget
	}
	if c.ReuseWindow <= 0 {
		c.ReuseWindow = 24 * time.Hour
	}
	return c
}

// Report summarises one Advance call.
type Report struct {
	Claimed   int `json:"claimed"`
	Continued int `json:"continued"`
	Retried   int `json:"retried"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Stale     int `json:"stale"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type result int

const (
	resultContinued result = iota
	resultRetried
	resultCompleted
	resultFailed
	resultSkipped
	resultError
)

func (r *Report) add(res result) {
	switch res {
	case resultContinued:
		r.Continued++
	case resultRetried:
		r.Retried++
	case resultCompleted:
		r.Completed++
	case resultFailed:
		r.Failed++
	case resultSkipped:
		r.Skipped++
	case resultError:
		r.Errors++
	}
}

// Sequencer claims jobs and runs exactly one step for each.
type Sequencer struct {
	jobs      brandkit.JobStore
	assets    brandkit.AssetStore
	executors map[brandkit.Step]steps.Executor
	notifier  Notifier
	publisher brandkit.Publisher
	clock     brandkit.Clock
	retry     *RetryPolicy
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New constructs a Sequencer. publisher may be nil when triggers are not used.
func New(
	jobs brandkit.JobStore,
	assets brandkit.AssetStore,
	executors []steps.Executor,
	notifier Notifier,
	publisher brandkit.Publisher,
	clock brandkit.Clock,
	retry *RetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = NewRetryPolicy(0, 0)
	}
	byStep := make(map[brandkit.Step]steps.Executor, len(executors))
	for _, e := range executors {
		byStep[e.Step()] = e
	}
	return &Sequencer{
		jobs:      jobs,
		assets:    assets,
		executors: byStep,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		retry:     retry,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		tracer:    telemetry.Tracer("github.com/JakeFAU/brandkit-crawler/internal/sequencer"),
	}
}

// Advance sweeps stale jobs, claims a batch and runs one step per claimed
// job under the invocation budget. A returned error means claiming failed;
// per-job problems are counted in the report.
func (s *Sequencer) Advance(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.InvocationBudget)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "sequencer.Advance")
	defer span.End()

	var report Report
	now := s.clock.Now()

	if s.cfg.StaleAfter > 0 {
		stale, err := s.jobs.FailStale(ctx, now.Add(-s.cfg.StaleAfter), string(errcode.SystemStaleJob), errcode.SystemStaleJob.Message(), now)
		if err != nil {
			span.RecordError(err)
			return report, fmt.Errorf("fail stale jobs: %w", err)
		}
		for _, job := range stale {
			s.logger.Warn("stale job failed",
				zap.String("job_id", job.ID),
				zap.String("step", string(job.NextStep)),
				zap.String("code", string(errcode.SystemStaleJob)),
			)
			metrics.ObserveJob(string(brandkit.StatusFailed))
			metrics.ObserveStepError(string(job.NextStep), string(errcode.SystemStaleJob))
			s.notify(ctx, job, 0)
		}
		report.Stale = len(stale)
	}

	claimed, err := s.claim(ctx, now)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	report.Claimed = len(claimed)
	span.SetAttributes(attribute.Int("claimed", len(claimed)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	for _, job := range claimed {
		g.Go(func() error {
			res := s.advanceJob(ctx, job)
			mu.Lock()
			report.add(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Debug("advance finished",
		zap.Int("claimed", report.Claimed),
		zap.Int("continued", report.Continued),
		zap.Int("retried", report.Retried),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("stale", report.Stale),
	)
	return report, nil
}

// claim prefers jobs waiting on a retry or an expired lease, then fills the
// batch with pending jobs.
func (s *Sequencer) claim(ctx context.Context, now time.Time) ([]brandkit.Job, error) {
	due, err := s.jobs.ClaimDue(ctx, s.cfg.BatchSize, now, s.cfg.Lease)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	metrics.ObserveClaims("due", len(due))
	remaining := s.cfg.BatchSize - len(due)
	if remaining <= 0 {
		return due, nil
	}
	pending, err := s.jobs.ClaimNextPending(ctx, remaining, now, s.cfg.Lease)
	if err != nil {
		// Already-claimed due jobs still run; their leases would otherwise idle.
		s.logger.Error("claim pending jobs failed", zap.Error(err))
		return due, nil
	}
	metrics.ObserveClaims("pending", len(pending))
	for range pending {
		metrics.ObserveJob(string(brandkit.StatusProcessing))
	}
	return append(due, pending...), nil
}

func (s *Sequencer) advanceJob(ctx context.Context, job brandkit.Job) result {
	step := job.NextStep
	logger := logging.ForJob(s.logger, job.ID, job.OwnerID, string(step)).With(zap.Int("attempt", job.Attempts))
	ctx, span := s.tracer.Start(ctx, "sequencer.step",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.step", string(step)),
			attribute.Int("job.attempt", job.Attempts),
		),
	)
	defer span.End()

	if step == brandkit.StepFetch && job.Attempts == 1 && job.Options.CacheMode == brandkit.CacheReuse {
		if res, ok := s.reuse(ctx, job, logger); ok {
			return res
		}
	}

	start := time.Now()
	outcome := s.execute(ctx, job)
	duration := time.Since(start)
	metrics.ObserveStep(string(step), outcome.Kind.String(), duration)
	logger = logger.With(zap.Duration("duration", duration))

	switch outcome.Kind {
	case brandkit.OutcomeContinue:
		return s.continueJob(ctx, job, outcome, logger)
	case brandkit.OutcomeSuccess:
		return s.completeJob(ctx, job, outcome, logger)
	default:
		span.SetStatus(codes.Error, string(errcode.Of(outcome.Err)))
		return s.handleFailure(ctx, job, outcome, logger)
	}
}

func (s *Sequencer) execute(ctx context.Context, job brandkit.Job) brandkit.Outcome {
	exec, ok := s.executors[job.NextStep]
	if !ok {
		// Render may be disabled after a job was routed to it.
		if job.NextStep == brandkit.StepRender {
			return brandkit.Continue(brandkit.StepGenerate, job.Context)
		}
		return brandkit.Failure(errcode.Newf(errcode.SystemUnknown, "no executor for step %q", job.NextStep), job.Context)
	}
	return exec.Execute(ctx, steps.Input{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		TargetURL: job.TargetURL,
		Attempt:   job.Attempts,
		Context:   job.Context,
		Options:   job.Options,
	})
}

func (s *Sequencer) continueJob(ctx context.Context, job brandkit.Job, outcome brandkit.Outcome, logger *zap.Logger) result {
	ctx, cancel := detached(ctx)
	defer cancel()

	saved, err := s.jobs.SaveStep(ctx, job.ID, brandkit.StepUpdate{
		NextStep: outcome.Next,
		Context:  outcome.Context,
		Progress: progressAfter(job.NextStep),
		Note:     fmt.Sprintf("%s finished, next %s", job.NextStep, outcome.Next),
	})
	if err != nil {
		logger.Error("save step failed", zap.Error(err))
		return resultError
	}
	if !saved {
		logger.Info("job already terminal, step result dropped")
		return resultSkipped
	}
	logger.Info("step continued", zap.String("next", string(outcome.Next)))
	s.trigger(ctx, job.ID, "continue", logger)
	return resultContinued
}

func (s *Sequencer) completeJob(ctx context.Context, job brandkit.Job, outcome brandkit.Outcome, logger *zap.Logger) result {
	ctx, cancel := detached(ctx)
	defer cancel()

	if err := s.jobs.RecordProgress(ctx, job.ID, ProgressGenerated, "brand kit generated"); err != nil {
		logger.Warn("record progress failed", zap.Error(err))
	}
	kit, err := steps.Finalize(ctx, s.assets, job.ID, *outcome.Result)
	if err != nil {
		return s.handleFailure(ctx, job, brandkit.Failure(err, outcome.Context), logger)
	}
	if err := s.jobs.RecordProgress(ctx, job.ID, ProgressFinalized, "assets attached"); err != nil {
		logger.Warn("record progress failed", zap.Error(err))
	}

	finished := s.clock.Now()
	done, err := s.jobs.Complete(ctx, job.ID, kit, finished)
	if err != nil {
		logger.Error("complete job failed", zap.Error(err))
		return resultError
	}
	if !done {
		logger.Info("job already terminal, completion dropped")
		return resultSkipped
	}
	metrics.ObserveJob(string(brandkit.StatusCompleted))
	logger.Info("job completed", zap.Int("asset_count", kit.AssetCount))

	job.Status = brandkit.StatusCompleted
	job.Progress = 100
	job.Result = &kit
	job.FinishedAt = &finished
	s.notify(ctx, job, kit.AssetCount)
	return resultCompleted
}

func (s *Sequencer) handleFailure(ctx context.Context, job brandkit.Job, outcome brandkit.Outcome, logger *zap.Logger) result {
	ctx, cancel := detached(ctx)
	defer cancel()

	if outcome.Err == nil {
		outcome.Err = errcode.Newf(errcode.SystemUnknown, "step failed without a cause")
	}
	code := errcode.Of(outcome.Err)
	step := job.NextStep
	outcome.Context.LastErrorCode = string(code)
	outcome.Context.LastErrorCause = outcome.Err.Error()
	metrics.ObserveStepError(string(step), string(code))
	logger = logger.With(zap.String("code", string(code)), zap.Error(outcome.Err))

	now := s.clock.Now()
	if s.retry.ShouldRetry(code, job.Attempts, job.Options) {
		notBefore := now.Add(s.retry.Backoff(code, job.Attempts))
		saved, err := s.jobs.SaveStep(ctx, job.ID, brandkit.StepUpdate{
			NextStep:  step,
			Attempts:  job.Attempts,
			NotBefore: &notBefore,
			Context:   outcome.Context,
			Progress:  job.Progress,
			Note:      fmt.Sprintf("%s failed with %s, retrying", step, code),
		})
		if err != nil {
			logger.Error("save retry failed", zap.Error(err))
			return resultError
		}
		if !saved {
			return resultSkipped
		}
		metrics.ObserveRetry(string(step))
		logger.Warn("step failed, retry scheduled", zap.Time("not_before", notBefore))
		return resultRetried
	}

	failed, err := s.jobs.Fail(ctx, job.ID, string(code), code.Message(), now)
	if err != nil {
		logger.Error("fail job failed", zap.Error(err))
		return resultError
	}
	if !failed {
		logger.Info("job already terminal, failure dropped")
		return resultSkipped
	}
	metrics.ObserveJob(string(brandkit.StatusFailed))
	logger.Warn("job failed")

	job.Status = brandkit.StatusFailed
	job.ErrorCode = string(code)
	job.ErrorMessage = code.Message()
	job.FinishedAt = &now
	s.notify(ctx, job, 0)
	return resultFailed
}

// reuse completes a job from a recent result for the same owner and URL.
func (s *Sequencer) reuse(ctx context.Context, job brandkit.Job, logger *zap.Logger) (result, bool) {
	now := s.clock.Now()
	prev, err := s.jobs.FindReusable(ctx, job.OwnerID, job.TargetURL, now.Add(-s.cfg.ReuseWindow))
	if err != nil {
		if !errors.Is(err, brandkit.ErrNotFound) {
			logger.Warn("reuse lookup failed", zap.Error(err))
		}
		return 0, false
	}
	if prev.Result == nil {
		return 0, false
	}
	kit := *prev.Result
	done, err := s.jobs.Complete(ctx, job.ID, kit, now)
	if err != nil {
		logger.Error("complete from cache failed", zap.Error(err))
		return resultError, true
	}
	if !done {
		return resultSkipped, true
	}
	metrics.ObserveJob(string(brandkit.StatusCompleted))
	logger.Info("job completed from cached result", zap.String("source_job_id", prev.ID))

	job.Status = brandkit.StatusCompleted
	job.Progress = 100
	job.Result = &kit
	job.FinishedAt = &now
	s.notify(ctx, job, kit.AssetCount)
	return resultCompleted, true
}

func (s *Sequencer) notify(ctx context.Context, job brandkit.Job, assetCount int) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, job, assetCount)
}

// trigger publishes a wake-up so the next step runs without waiting for the
// scheduler. Delivery is at-least-once; duplicates only cause empty ticks.
func (s *Sequencer) trigger(ctx context.Context, jobID, reason string, logger *zap.Logger) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	msg := brandkit.Trigger{Reason: reason, JobID: jobID, At: s.clock.Now()}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, msg); err != nil {
		logger.Warn("publish trigger failed", zap.Error(err))
	}
}

func progressAfter(step brandkit.Step) int {
	switch step {
	case brandkit.StepFetch:
		return ProgressFetched
	case brandkit.StepRender:
		return ProgressRendered
	case brandkit.StepGenerate:
		return ProgressGenerated
	default:
		return 0
	}
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
