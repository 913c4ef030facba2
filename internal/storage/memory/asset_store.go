package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

// AssetStore keeps side-effect records in memory.
type AssetStore struct {
	mu     sync.RWMutex
	assets map[string]brandkit.Asset
}

// NewAssetStore constructs an AssetStore.
func NewAssetStore() *AssetStore {
	return &AssetStore{assets: make(map[string]brandkit.Asset)}
}

// AddAssets inserts assets whose IDs are not yet present.
func (s *AssetStore) AddAssets(_ context.Context, assets []brandkit.Asset) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, a := range assets {
		if _, exists := s.assets[a.ID]; exists {
			continue
		}
		s.assets[a.ID] = a
		added++
	}
	return added, nil
}

// ListByJob returns a job's assets in insertion-time order.
func (s *AssetStore) ListByJob(_ context.Context, jobID string) ([]brandkit.Asset, error) {
	return s.list(func(a brandkit.Asset) bool { return a.JobID == jobID }), nil
}

// ListByOwner returns every asset owned by ownerID.
func (s *AssetStore) ListByOwner(_ context.Context, ownerID string) ([]brandkit.Asset, error) {
	return s.list(func(a brandkit.Asset) bool { return a.OwnerID == ownerID }), nil
}

// ReassignAssets re-points every asset owned by from to to.
func (s *AssetStore) ReassignAssets(_ context.Context, from, to string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.assets {
		if a.OwnerID != from {
			continue
		}
		a.OwnerID = to
		s.assets[id] = a
		n++
	}
	return n, nil
}

func (s *AssetStore) list(keep func(brandkit.Asset) bool) []brandkit.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]brandkit.Asset, 0)
	for _, a := range s.assets {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OwnerStore keeps owner last-run summaries in memory.
type OwnerStore struct {
	mu     sync.RWMutex
	owners map[string]*brandkit.LastRun
}

// NewOwnerStore constructs an OwnerStore. Listed owners are registered up front.
func NewOwnerStore(ownerIDs ...string) *OwnerStore {
	s := &OwnerStore{owners: make(map[string]*brandkit.LastRun)}
	for _, id := range ownerIDs {
		s.owners[id] = nil
	}
	return s
}

// Register adds an owner record with no run history.
func (s *OwnerStore) Register(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[ownerID]; !ok {
		s.owners[ownerID] = nil
	}
}

// RecordLastRun overwrites the owner's last-run summary.
func (s *OwnerStore) RecordLastRun(_ context.Context, ownerID string, run brandkit.LastRun) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[ownerID]; !ok {
		return false, nil
	}
	r := run
	s.owners[ownerID] = &r
	return true, nil
}

// LastRun returns the stored summary; ok is false for unknown owners or owners without runs.
func (s *OwnerStore) LastRun(ownerID string) (brandkit.LastRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.owners[ownerID]
	if r == nil {
		return brandkit.LastRun{}, false
	}
	return *r, true
}
