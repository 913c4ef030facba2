package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

func TestAssetStoreIgnoresDuplicateIDs(t *testing.T) {
	t.Parallel()

	store := NewAssetStore()
	ctx := context.Background()
	batch := []brandkit.Asset{
		{ID: "a", OwnerID: "o1", JobID: "job-1", Kind: brandkit.AssetColor, Value: "#ff6600"},
		{ID: "b", OwnerID: "o1", JobID: "job-1", Kind: brandkit.AssetImage, Value: "https://acme.test/a.png"},
	}
	n, err := store.AddAssets(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = store.AddAssets(ctx, batch)
	require.NoError(t, err)
	require.Zero(t, n)

	listed, err := store.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

func TestAssetStoreReassign(t *testing.T) {
	t.Parallel()

	store := NewAssetStore()
	ctx := context.Background()
	_, err := store.AddAssets(ctx, []brandkit.Asset{
		{ID: "a", OwnerID: "tmp_x", JobID: "job-1", Kind: brandkit.AssetImage, Value: "1"},
		{ID: "b", OwnerID: "tmp_x", JobID: "job-1", Kind: brandkit.AssetImage, Value: "2"},
		{ID: "c", OwnerID: "other", JobID: "job-2", Kind: brandkit.AssetImage, Value: "3"},
	})
	require.NoError(t, err)

	moved, err := store.ReassignAssets(ctx, "tmp_x", "final")
	require.NoError(t, err)
	require.Equal(t, 2, moved)

	moved, err = store.ReassignAssets(ctx, "tmp_x", "final")
	require.NoError(t, err)
	require.Zero(t, moved)

	owned, err := store.ListByOwner(ctx, "final")
	require.NoError(t, err)
	require.Len(t, owned, 2)
}

func TestOwnerStoreRecordLastRun(t *testing.T) {
	t.Parallel()

	store := NewOwnerStore("known")
	ctx := context.Background()

	_, ok := store.LastRun("known")
	require.False(t, ok)

	found, err := store.RecordLastRun(ctx, "unknown", brandkit.LastRun{Status: brandkit.RunOK})
	require.NoError(t, err)
	require.False(t, found)

	found, err = store.RecordLastRun(ctx, "known", brandkit.LastRun{Status: brandkit.RunOK, JobID: "job-1"})
	require.NoError(t, err)
	require.True(t, found)

	run, ok := store.LastRun("known")
	require.True(t, ok)
	require.Equal(t, "job-1", run.JobID)
}
