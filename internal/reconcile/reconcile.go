// Package reconcile re-points records created under a provisional owner ID to
// the caller's final owner ID.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/metrics"
	"github.com/JakeFAU/brandkit-crawler/internal/ownerid"
)

// Result reports what a reconciliation moved. Errors is never nil.
type Result struct {
	Success          bool     `json:"success"`
	TransferredCount int      `json:"transferredCount"`
	JobsTransferred  int      `json:"jobsTransferred"`
	Errors           []string `json:"errors"`
	Notice           string   `json:"notice,omitempty"`
}

// Notifier replays a terminal job's notice onto a specific owner.
type Notifier interface {
	NotifyOwner(ctx context.Context, ownerID string, job brandkit.Job, assetCount int) string
}

// Service performs reconciliations.
type Service struct {
	jobs     brandkit.JobStore
	assets   brandkit.AssetStore
	notifier Notifier
	logger   *zap.Logger
}

// New constructs a Service. notifier may be nil.
func New(jobs brandkit.JobStore, assets brandkit.AssetStore, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{jobs: jobs, assets: assets, notifier: notifier, logger: logger}
}

// Reconcile moves assets and in-flight jobs from provisional to final. It is
// idempotent: a repeated call transfers nothing and still succeeds. The
// returned error is reserved for store failures.
func (s *Service) Reconcile(ctx context.Context, provisional, final string) (Result, error) {
	res := Result{Success: true, Errors: []string{}}
	if provisional == "" || final == "" || provisional == final {
		return res, nil
	}

	finalID, err := ownerid.ParseFinal(final)
	if err != nil {
		res.Success = false
		res.Errors = append(res.Errors, fmt.Sprintf("finalOwnerId: %v", err))
		return res, nil
	}
	provID, err := ownerid.ParseProvisional(provisional)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("provisionalOwnerId: %v", err))
		return res, nil
	}

	logger := s.logger.With(zap.String("provisional_owner_id", provID.String()), zap.String("owner_id", finalID.String()))

	moved, err := s.assets.ReassignAssets(ctx, provID.String(), finalID.String())
	if err != nil {
		return Result{}, fmt.Errorf("reassign assets: %w", err)
	}
	jobsMoved, err := s.jobs.ReassignOwner(ctx, provID.String(), finalID.String())
	if err != nil {
		return Result{}, fmt.Errorf("reassign jobs: %w", err)
	}
	res.TransferredCount = moved
	res.JobsTransferred = jobsMoved
	metrics.ObserveReconciled("assets", moved)
	metrics.ObserveReconciled("jobs", jobsMoved)

	res.Notice, err = s.replay(ctx, provID.String(), finalID.String())
	if err != nil {
		return Result{}, err
	}

	logger.Info("owner reconciled",
		zap.Int("assets", moved),
		zap.Int("jobs", jobsMoved),
		zap.String("notice", res.Notice),
	)
	return res, nil
}

// replay sends the notice for the latest finished job under either ID, since
// terminal jobs keep their original owner.
func (s *Service) replay(ctx context.Context, provisional, final string) (string, error) {
	if s.notifier == nil {
		return "", nil
	}
	var latest *brandkit.Job
	for _, owner := range []string{final, provisional} {
		job, err := s.jobs.LatestTerminal(ctx, owner)
		if errors.Is(err, brandkit.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("latest terminal job for %s: %w", owner, err)
		}
		if latest == nil || finishedAfter(job, *latest) {
			latest = &job
		}
	}
	if latest == nil {
		return "", nil
	}

	count := 0
	if latest.Result != nil {
		count = latest.Result.AssetCount
	}
	return s.notifier.NotifyOwner(ctx, final, *latest, count), nil
}

func finishedAfter(a, b brandkit.Job) bool {
	if a.FinishedAt == nil {
		return false
	}
	return b.FinishedAt == nil || a.FinishedAt.After(*b.FinishedAt)
}
