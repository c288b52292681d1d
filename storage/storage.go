// Package storage provides the durable key-value engines behind the local
// project cache and the asset blob store.
//
// Information Hiding:
// - Backend implementation details hidden behind CacheBackend/BlobBackend
// - Allows swapping between memory and SQLite without API changes
// - Each backend encapsulates its own schema and serialization
package storage

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/richinex/canvasync/model"
)

// ErrChecksum reports a stored blob whose bytes no longer match the
// checksum recorded when it was written.
var ErrChecksum = errors.New("storage: checksum mismatch")

// SchemaVersion is the single version tag kept by durable backends.
const SchemaVersion = 1

// CacheBackend stores one CacheEntry row per project.
type CacheBackend interface {
	// GetEntry returns the row for projectID, or nil if there is none.
	GetEntry(ctx context.Context, projectID string) (*model.CacheEntry, error)

	// PutEntry inserts or replaces the row for entry.ProjectID.
	PutEntry(ctx context.Context, entry model.CacheEntry) error

	// DeleteEntry removes the row for projectID. Missing rows are not an error.
	DeleteEntry(ctx context.Context, projectID string) error
}

// AssetFilter selects assets through the secondary indexes. Zero fields
// match everything.
type AssetFilter struct {
	ProjectID     string
	NodeID        string
	CreatedBefore time.Time
	Limit         int
}

// BlobBackend stores binary assets keyed by id.
type BlobBackend interface {
	// Ping verifies the engine is usable.
	Ping(ctx context.Context) error

	// PutAssets stores all records in one transaction.
	PutAssets(ctx context.Context, records []model.AssetRecord) error

	// GetAsset returns the record for id, or nil if there is none.
	GetAsset(ctx context.Context, id string) (*model.AssetRecord, error)

	// DeleteAsset removes id. Missing ids are not an error.
	DeleteAsset(ctx context.Context, id string) error

	// ListAssets returns metadata (no blobs) of matching assets, oldest first.
	ListAssets(ctx context.Context, filter AssetFilter) ([]model.AssetRecord, error)
}

// Checksum uses xxHash for fast, non-cryptographic integrity checks.
func Checksum(blob []byte) string {
	h := xxhash.Sum64(blob)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h)
	return hex.EncodeToString(buf[:])
}
