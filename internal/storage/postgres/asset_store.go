package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

const assetColumns = `id, owner_id, job_id, kind, value, source, created_at`

// AssetStore persists side-effect records in brand_assets.
type AssetStore struct {
	db DB
}

// NewAssetStore wraps an open pool.
func NewAssetStore(db DB) (*AssetStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &AssetStore{db: db}, nil
}

// AddAssets inserts all assets in one statement. Existing IDs are skipped,
// so re-running a step never duplicates rows.
func (s *AssetStore) AddAssets(ctx context.Context, assets []brandkit.Asset) (int, error) {
	if len(assets) == 0 {
		return 0, nil
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(assets)*7)
	)
	sb.WriteString(`INSERT INTO brand_assets (` + assetColumns + `) VALUES `)
	for i, a := range assets {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, a.ID, a.OwnerID, a.JobID, string(a.Kind), a.Value, a.Source, a.CreatedAt)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")
	tag, err := s.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert assets: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListByJob returns a job's assets ordered by creation.
func (s *AssetStore) ListByJob(ctx context.Context, jobID string) ([]brandkit.Asset, error) {
	rows, err := s.db.Query(ctx, `SELECT `+assetColumns+` FROM brand_assets WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	out := make([]brandkit.Asset, 0)
	for rows.Next() {
		var (
			a    brandkit.Asset
			kind string
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.JobID, &kind, &a.Value, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		a.Kind = brandkit.AssetKind(kind)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return out, nil
}

// ReassignAssets re-points every asset of one owner to another.
func (s *AssetStore) ReassignAssets(ctx context.Context, from, to string) (int, error) {
	tag, err := s.db.Exec(ctx, `UPDATE brand_assets SET owner_id = $2 WHERE owner_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("reassign assets: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// OwnerStore updates the denormalised last-run columns on owners.
type OwnerStore struct {
	db DB
}

// NewOwnerStore wraps an open pool.
func NewOwnerStore(db DB) (*OwnerStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &OwnerStore{db: db}, nil
}

// RecordLastRun overwrites the last-run summary. It returns false when no owner row exists.
func (s *OwnerStore) RecordLastRun(ctx context.Context, ownerID string, run brandkit.LastRun) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE owners
SET last_run_status = $2, last_run_job_id = $3, last_run_at = $4, last_run_asset_count = $5
WHERE id = $1`, ownerID, string(run.Status), run.JobID, run.At, run.AssetCount)
	if err != nil {
		return false, fmt.Errorf("record last run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
