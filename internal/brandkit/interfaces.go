package brandkit

import (
	"context"
	"time"
)

// JobStore persists jobs and enforces the lifecycle state machine. Every
// mutating call is conditional on the current status, so a lost race is
// reported as changed=false rather than an error.
type JobStore interface {
	Create(ctx context.Context, job NewJob) (Job, error)
	Get(ctx context.Context, jobID string) (Job, error)
	// ClaimNextPending moves up to limit pending jobs to processing, oldest
	// first. A job is returned to at most one concurrent caller.
	ClaimNextPending(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]Job, error)
	// ClaimDue leases processing jobs whose lease expired and whose retry
	// delay has elapsed.
	ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]Job, error)
	RecordProgress(ctx context.Context, jobID string, progress int, note string) error
	SaveStep(ctx context.Context, jobID string, update StepUpdate) (bool, error)
	Complete(ctx context.Context, jobID string, result BrandKit, at time.Time) (bool, error)
	Fail(ctx context.Context, jobID, code, message string, at time.Time) (bool, error)
	// FailStale fails processing jobs not updated since olderThan and returns them.
	FailStale(ctx context.Context, olderThan time.Time, code, message string, at time.Time) ([]Job, error)
	FindReusable(ctx context.Context, ownerID, targetURL string, since time.Time) (Job, error)
	// ReassignOwner re-points non-terminal jobs from one owner to another.
	ReassignOwner(ctx context.Context, from, to string) (int, error)
	LatestTerminal(ctx context.Context, ownerID string) (Job, error)
}

// AssetStore persists side-effect records keyed by owner.
type AssetStore interface {
	// AddAssets inserts assets, ignoring IDs that already exist. It returns
	// the number of new rows.
	AddAssets(ctx context.Context, assets []Asset) (int, error)
	ListByJob(ctx context.Context, jobID string) ([]Asset, error)
	ReassignAssets(ctx context.Context, from, to string) (int, error)
}

// OwnerStore holds the denormalised last-run summary per owner.
type OwnerStore interface {
	// RecordLastRun returns false when the owner record does not exist.
	RecordLastRun(ctx context.Context, ownerID string, run LastRun) (bool, error)
}

// BlobStore persists raw page snapshots and screenshots.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// Publisher emits trigger messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Generator turns extracted page content into a raw structured response.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher provides content hashes for blob paths and asset IDs.
type Hasher interface {
	Hash(data []byte) (string, error)
}
