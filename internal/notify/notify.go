// Package notify writes the last-run summary onto owner records when a job
// reaches a terminal state.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/metrics"
	"github.com/JakeFAU/brandkit-crawler/internal/ownerid"
)

// Notification results, also used as metric labels.
const (
	ResultOK          = "ok"
	ResultSkipped     = "skipped"
	ResultMissing     = "missing_owner"
	ResultNotTerminal = "not_terminal"
	ResultError       = "error"
)

// Notifier updates owner records. It never returns errors: a failed notice
// must not undo a job's terminal state.
type Notifier struct {
	owners brandkit.OwnerStore
	logger *zap.Logger
}

// New constructs a Notifier.
func New(owners brandkit.OwnerStore, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{owners: owners, logger: logger}
}

// Notify records job's outcome on its current owner.
func (n *Notifier) Notify(ctx context.Context, job brandkit.Job, assetCount int) {
	n.NotifyOwner(ctx, job.OwnerID, job, assetCount)
}

// NotifyOwner records job's outcome on ownerID and returns the result label.
// Provisional owners have no record yet, so they are skipped.
func (n *Notifier) NotifyOwner(ctx context.Context, ownerID string, job brandkit.Job, assetCount int) string {
	res := n.notify(ctx, ownerID, job, assetCount)
	metrics.ObserveNotification(res)
	return res
}

func (n *Notifier) notify(ctx context.Context, ownerID string, job brandkit.Job, assetCount int) string {
	logger := n.logger.With(zap.String("job_id", job.ID), zap.String("owner_id", ownerID))

	id, err := ownerid.ParseFinal(ownerID)
	if err != nil {
		logger.Debug("owner is not final, notice skipped", zap.Error(err))
		return ResultSkipped
	}

	var status brandkit.RunStatus
	switch job.Status {
	case brandkit.StatusCompleted:
		// Zero assets is still a successful run.
		status = brandkit.RunOK
	case brandkit.StatusFailed:
		status = brandkit.RunError
		assetCount = 0
	default:
		logger.Warn("notice for non-terminal job ignored", zap.String("status", string(job.Status)))
		return ResultNotTerminal
	}

	at := job.UpdatedAt
	if job.FinishedAt != nil {
		at = *job.FinishedAt
	}
	found, err := n.owners.RecordLastRun(ctx, id.String(), brandkit.LastRun{
		Status:     status,
		JobID:      job.ID,
		At:         at,
		AssetCount: assetCount,
	})
	if err != nil {
		logger.Error("record last run failed", zap.Error(err))
		return ResultError
	}
	if !found {
		logger.Warn("owner record not found, notice dropped")
		return ResultMissing
	}
	logger.Info("owner last run recorded", zap.String("last_run_status", string(status)), zap.Int("asset_count", assetCount))
	return ResultOK
}
