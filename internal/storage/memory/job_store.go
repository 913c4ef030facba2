package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

// Option customises the in-memory stores.
type Option func(*JobStore)

// WithClock overrides the clock used for UpdatedAt bookkeeping.
func WithClock(c brandkit.Clock) Option {
	return func(s *JobStore) {
		if c != nil {
			s.now = c.Now
		}
	}
}

// JobStore provides an in-memory implementation for development/testing.
// A single mutex makes every status guard atomic, so concurrent claimers
// never receive the same job.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]brandkit.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore(opts ...Option) *JobStore {
	s := &JobStore{
		jobs: make(map[string]brandkit.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new pending job.
func (s *JobStore) Create(_ context.Context, nj brandkit.NewJob) (brandkit.Job, error) {
	if err := brandkit.ValidateTargetURL(nj.TargetURL); err != nil {
		return brandkit.Job{}, err
	}
	if nj.ID == "" {
		return brandkit.Job{}, errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[nj.ID]; exists {
		return brandkit.Job{}, fmt.Errorf("job %s already exists", nj.ID)
	}
	created := nj.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	job := brandkit.Job{
		ID:        nj.ID,
		OwnerID:   nj.OwnerID,
		TargetURL: strings.TrimSpace(nj.TargetURL),
		Status:    brandkit.StatusPending,
		Options:   nj.Options,
		NextStep:  brandkit.StepFetch,
		CreatedAt: created,
		UpdatedAt: created,
	}
	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (brandkit.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return brandkit.Job{}, brandkit.ErrNotFound
	}
	return cloneJob(job), nil
}

// ClaimNextPending moves the oldest pending jobs to processing.
func (s *JobStore) ClaimNextPending(_ context.Context, limit int, now time.Time, lease time.Duration) ([]brandkit.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := s.filter(func(j brandkit.Job) bool { return j.Status == brandkit.StatusPending })
	sort.Slice(candidates, func(i, j int) bool { return olderThan(candidates[i], candidates[j]) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]brandkit.Job, 0, len(candidates))
	for _, job := range candidates {
		job.Status = brandkit.StatusProcessing
		if job.StartedAt == nil {
			job.StartedAt = pointerTime(now)
		}
		job.LeaseUntil = pointerTime(now.Add(lease))
		job.Attempts++
		job.UpdatedAt = now
		s.jobs[job.ID] = job
		out = append(out, cloneJob(job))
	}
	return out, nil
}

// ClaimDue leases processing jobs whose lease expired and retry delay elapsed.
func (s *JobStore) ClaimDue(_ context.Context, limit int, now time.Time, lease time.Duration) ([]brandkit.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := s.filter(func(j brandkit.Job) bool {
		if j.Status != brandkit.StatusProcessing {
			return false
		}
		if j.LeaseUntil != nil && !j.LeaseUntil.Before(now) {
			return false
		}
		return j.NotBefore == nil || !j.NotBefore.After(now)
	})
	sort.Slice(candidates, func(i, j int) bool { return dueBefore(candidates[i], candidates[j]) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]brandkit.Job, 0, len(candidates))
	for _, job := range candidates {
		job.LeaseUntil = pointerTime(now.Add(lease))
		job.Attempts++
		job.UpdatedAt = now
		s.jobs[job.ID] = job
		out = append(out, cloneJob(job))
	}
	return out, nil
}

// RecordProgress raises progress on a non-terminal job. Terminal jobs are left untouched.
func (s *JobStore) RecordProgress(_ context.Context, jobID string, progress int, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return brandkit.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Progress = max(job.Progress, clampProgress(progress))
	job.Note = note
	job.UpdatedAt = s.now()
	s.jobs[jobID] = job
	return nil
}

// SaveStep persists step state for a non-terminal job and releases its lease.
func (s *JobStore) SaveStep(_ context.Context, jobID string, u brandkit.StepUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, brandkit.ErrNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.NextStep = u.NextStep
	job.Attempts = u.Attempts
	job.NotBefore = copyTime(u.NotBefore)
	job.Context = cloneContext(u.Context)
	job.Progress = max(job.Progress, clampProgress(u.Progress))
	job.Note = u.Note
	job.LeaseUntil = nil
	job.UpdatedAt = s.now()
	s.jobs[jobID] = job
	return true, nil
}

// Complete marks a processing job completed.
func (s *JobStore) Complete(_ context.Context, jobID string, result brandkit.BrandKit, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, brandkit.ErrNotFound
	}
	if job.Status != brandkit.StatusProcessing {
		return false, nil
	}
	kit := cloneKit(result)
	job.Status = brandkit.StatusCompleted
	job.Progress = 100
	job.Result = &kit
	job.FinishedAt = pointerTime(at)
	job.LeaseUntil = nil
	job.NotBefore = nil
	job.UpdatedAt = at
	s.jobs[jobID] = job
	return true, nil
}

// Fail marks a processing job failed.
func (s *JobStore) Fail(_ context.Context, jobID, code, message string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, brandkit.ErrNotFound
	}
	if job.Status != brandkit.StatusProcessing {
		return false, nil
	}
	s.jobs[jobID] = failed(job, code, message, at)
	return true, nil
}

// FailStale fails processing jobs whose last update is older than olderThan.
func (s *JobStore) FailStale(_ context.Context, cutoff time.Time, code, message string, at time.Time) ([]brandkit.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := s.filter(func(j brandkit.Job) bool {
		return j.Status == brandkit.StatusProcessing && j.UpdatedAt.Before(cutoff)
	})
	sort.Slice(stale, func(i, j int) bool { return olderThan(stale[i], stale[j]) })
	out := make([]brandkit.Job, 0, len(stale))
	for _, job := range stale {
		job = failed(job, code, message, at)
		s.jobs[job.ID] = job
		out = append(out, cloneJob(job))
	}
	return out, nil
}

// FindReusable returns the latest completed job for owner and URL finished at or after since.
func (s *JobStore) FindReusable(_ context.Context, ownerID, targetURL string, since time.Time) (brandkit.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *brandkit.Job
	for _, job := range s.jobs {
		if job.Status != brandkit.StatusCompleted || job.OwnerID != ownerID || job.TargetURL != targetURL {
			continue
		}
		if job.FinishedAt == nil || job.FinishedAt.Before(since) {
			continue
		}
		if best == nil || job.FinishedAt.After(*best.FinishedAt) {
			j := job
			best = &j
		}
	}
	if best == nil {
		return brandkit.Job{}, brandkit.ErrNotFound
	}
	return cloneJob(*best), nil
}

// ReassignOwner re-points non-terminal jobs from one owner to another.
func (s *JobStore) ReassignOwner(_ context.Context, from, to string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.OwnerID != from || job.Status.Terminal() {
			continue
		}
		job.OwnerID = to
		job.UpdatedAt = s.now()
		s.jobs[id] = job
		n++
	}
	return n, nil
}

// LatestTerminal returns the most recently finished job for an owner.
func (s *JobStore) LatestTerminal(_ context.Context, ownerID string) (brandkit.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *brandkit.Job
	for _, job := range s.jobs {
		if job.OwnerID != ownerID || !job.Status.Terminal() || job.FinishedAt == nil {
			continue
		}
		if best == nil || job.FinishedAt.After(*best.FinishedAt) {
			j := job
			best = &j
		}
	}
	if best == nil {
		return brandkit.Job{}, brandkit.ErrNotFound
	}
	return cloneJob(*best), nil
}

func (s *JobStore) filter(keep func(brandkit.Job) bool) []brandkit.Job {
	var out []brandkit.Job
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, job)
		}
	}
	return out
}

func failed(job brandkit.Job, code, message string, at time.Time) brandkit.Job {
	job.Status = brandkit.StatusFailed
	job.ErrorCode = code
	job.ErrorMessage = message
	job.FinishedAt = pointerTime(at)
	job.LeaseUntil = nil
	job.NotBefore = nil
	job.UpdatedAt = at
	return job
}

func olderThan(a, b brandkit.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func dueBefore(a, b brandkit.Job) bool {
	ta, tb := a.CreatedAt, b.CreatedAt
	if a.NotBefore != nil {
		ta = *a.NotBefore
	}
	if b.NotBefore != nil {
		tb = *b.NotBefore
	}
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.ID < b.ID
}

func clampProgress(p int) int {
	return min(max(p, 0), 100)
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return pointerTime(*t)
}

func cloneJob(job brandkit.Job) brandkit.Job {
	job.NotBefore = copyTime(job.NotBefore)
	job.LeaseUntil = copyTime(job.LeaseUntil)
	job.StartedAt = copyTime(job.StartedAt)
	job.FinishedAt = copyTime(job.FinishedAt)
	job.Context = cloneContext(job.Context)
	if job.Result != nil {
		kit := cloneKit(*job.Result)
		job.Result = &kit
	}
	return job
}

func cloneContext(sc brandkit.StepContext) brandkit.StepContext {
	sc.Colors = slices.Clone(sc.Colors)
	sc.Images = slices.Clone(sc.Images)
	sc.Fonts = slices.Clone(sc.Fonts)
	return sc
}

func cloneKit(kit brandkit.BrandKit) brandkit.BrandKit {
	kit.Colors = slices.Clone(kit.Colors)
	kit.Images = slices.Clone(kit.Images)
	kit.Fonts = slices.Clone(kit.Fonts)
	kit.Voice.Adjectives = slices.Clone(kit.Voice.Adjectives)
	return kit
}
