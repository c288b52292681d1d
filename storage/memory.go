package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/richinex/canvasync/model"
)

// MemoryCache implements CacheBackend using an in-memory map.
// Data is lost when the process terminates.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]model.CacheEntry
}

// NewMemoryCache creates an empty in-memory cache backend.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]model.CacheEntry)}
}

// GetEntry returns a copy of the row for projectID.
func (m *MemoryCache) GetEntry(ctx context.Context, projectID string) (*model.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[projectID]
	if !ok {
		return nil, nil
	}
	// Return a copy to avoid external mutations
	entry.Content = entry.Content.Clone()
	return &entry, nil
}

// PutEntry stores a copy of entry.
func (m *MemoryCache) PutEntry(ctx context.Context, entry model.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Content = entry.Content.Clone()
	m.entries[entry.ProjectID] = entry
	return nil
}

// DeleteEntry removes the row for projectID.
func (m *MemoryCache) DeleteEntry(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, projectID)
	return nil
}

// MemoryBlobs implements BlobBackend using an in-memory map.
// It is also the session fallback when the durable engine is unavailable.
type MemoryBlobs struct {
	mu     sync.RWMutex
	assets map[string]model.AssetRecord
}

// NewMemoryBlobs creates an empty in-memory blob backend.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{assets: make(map[string]model.AssetRecord)}
}

// Ping always succeeds.
func (m *MemoryBlobs) Ping(ctx context.Context) error { return nil }

// PutAssets stores copies of records.
func (m *MemoryBlobs) PutAssets(ctx context.Context, records []model.AssetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		r.Blob = append([]byte(nil), r.Blob...)
		m.assets[r.ID] = r
	}
	return nil
}

// GetAsset returns a copy of the record for id.
func (m *MemoryBlobs) GetAsset(ctx context.Context, id string) (*model.AssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.assets[id]
	if !ok {
		return nil, nil
	}
	r.Blob = append([]byte(nil), r.Blob...)
	return &r, nil
}

// DeleteAsset removes id.
func (m *MemoryBlobs) DeleteAsset(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.assets, id)
	return nil
}

// ListAssets returns matching metadata, oldest first.
func (m *MemoryBlobs) ListAssets(ctx context.Context, filter AssetFilter) ([]model.AssetRecord, error) {
	m.mu.RLock()
	out := []model.AssetRecord{}
	for _, r := range m.assets {
		if !filter.match(r) {
			continue
		}
		r.Blob = nil
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f AssetFilter) match(r model.AssetRecord) bool {
	if f.ProjectID != "" && r.ProjectID != f.ProjectID {
		return false
	}
	if f.NodeID != "" && r.NodeID != f.NodeID {
		return false
	}
	if !f.CreatedBefore.IsZero() && !r.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// Verify in-memory backends implement the interfaces
var _ CacheBackend = (*MemoryCache)(nil)
var _ BlobBackend = (*MemoryBlobs)(nil)
