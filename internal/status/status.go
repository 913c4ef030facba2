// Package status renders the caller-facing view of a job.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
)

// View is the JSON shape returned to clients polling a job.
type View struct {
	JobID        string             `json:"jobId"`
	OwnerID      string             `json:"ownerId"`
	TargetURL    string             `json:"targetUrl"`
	Status       brandkit.JobStatus `json:"status"`
	Progress     int                `json:"progress"`
	Step         brandkit.Step      `json:"step,omitempty"`
	Note         string             `json:"note,omitempty"`
	Result       *brandkit.BrandKit `json:"result,omitempty"`
	ErrorCode    string             `json:"errorCode,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	Retryable    *bool              `json:"retryable,omitempty"`
	RetryAt      *time.Time         `json:"retryAt,omitempty"`
	StartedAt    *time.Time         `json:"startedAt,omitempty"`
	FinishedAt   *time.Time         `json:"finishedAt,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// Reporter reads job snapshots.
type Reporter struct {
	jobs brandkit.JobStore
}

// New constructs a Reporter.
func New(jobs brandkit.JobStore) *Reporter {
	return &Reporter{jobs: jobs}
}

// GetStatus returns the view for jobID, or brandkit.ErrNotFound.
func (r *Reporter) GetStatus(ctx context.Context, jobID string) (View, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return View{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return ViewOf(job), nil
}

// ViewOf projects a job row onto its view. Step is only shown while the job
// is processing; error fields only once it failed.
func ViewOf(job brandkit.Job) View {
	v := View{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		TargetURL:  job.TargetURL,
		Status:     job.Status,
		Progress:   job.Progress,
		Note:       job.Note,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		CreatedAt:  job.CreatedAt,
	}
	switch job.Status {
	case brandkit.StatusProcessing:
		v.Step = job.NextStep
		if job.NotBefore != nil {
			v.RetryAt = job.NotBefore
		}
	case brandkit.StatusCompleted:
		v.Progress = 100
		v.Result = job.Result
	case brandkit.StatusFailed:
		v.ErrorCode = job.ErrorCode
		v.ErrorMessage = job.ErrorMessage
		retryable := errcode.Code(job.ErrorCode).Retryable()
		v.Retryable = &retryable
	}
	return v
}
