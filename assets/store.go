// Package assets stores binary image assets and hands out renderable
// handles for them.
//
// Information Hiding:
// - Durable vs in-memory engine chosen once by a bounded probe; a later
//   durable failure downgrades the session to memory in one place
// - Object URLs are shared through refcounted leases and revoked exactly
//   when the last lease is released
// - Concurrent first acquisitions of one id share a single blob read
package assets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richinex/canvasync/model"
	"github.com/richinex/canvasync/storage"
)

// NewAsset is one item to ingest.
type NewAsset struct {
	Blob        []byte
	ContentType string // Sniffed from Blob when empty
	ProjectID   string // Optional
	NodeID      string // Optional
}

// Store is the session's asset store. Construct it with Open.
type Store struct {
	backend *selector
	minter  Minter
	now     func() time.Time
	log     *slog.Logger

	mu       sync.Mutex
	urls     map[string]*urlEntry
	inflight map[string]*acquireCall
}

type config struct {
	minter       Minter
	probeTimeout time.Duration
	now          func() time.Time
	log          *slog.Logger
}

// Option configures Open.
type Option func(*config)

// WithMinter sets the URL allocator. Default: a fresh Handles.
func WithMinter(m Minter) Option { return func(c *config) { c.minter = m } }

// WithProbeTimeout bounds the durable engine probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }

// Open probes durable and returns a store backed by it, or by memory when
// durable is nil or unusable.
func Open(ctx context.Context, durable storage.BlobBackend, opts ...Option) *Store {
	cfg := config{
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.minter == nil {
		cfg.minter = NewHandles()
	}

	return &Store{
		backend:  newSelector(ctx, durable, cfg.probeTimeout, cfg.log),
		minter:   cfg.minter,
		now:      cfg.now,
		log:      cfg.log,
		urls:     make(map[string]*urlEntry),
		inflight: make(map[string]*acquireCall),
	}
}

// Mode reports which engine serves the store.
func (s *Store) Mode() Mode { return s.backend.mode() }

// Put stores every item and returns the generated ids in input order. An
// empty input returns an empty slice without touching storage.
func (s *Store) Put(ctx context.Context, items []NewAsset) ([]string, error) {
	if len(items) == 0 {
		return []string{}, nil
	}

	now := s.now().UTC()
	ids := make([]string, len(items))
	records := make([]model.AssetRecord, len(items))
	for i, item := range items {
		contentType := item.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(item.Blob)
		}
		ids[i] = uuid.NewString()
		records[i] = model.AssetRecord{
			ID:          ids[i],
			Blob:        item.Blob,
			CreatedAt:   now,
			Size:        int64(len(item.Blob)),
			ContentType: contentType,
			ProjectID:   item.ProjectID,
			NodeID:      item.NodeID,
			Checksum:    storage.Checksum(item.Blob),
		}
	}

	if err := s.backend.put(ctx, records); err != nil {
		return nil, fmt.Errorf("assets: put: %w", err)
	}
	return ids, nil
}

// Get returns the blob for id, or nil if there is none.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	rec, err := s.Record(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Blob, nil
}

// Record returns the full record for id, or nil if there is none.
func (s *Store) Record(ctx context.Context, id string) (*model.AssetRecord, error) {
	rec, err := s.backend.get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("assets: get %s: %w", id, err)
	}
	return rec, nil
}

// List returns metadata of assets matching filter.
func (s *Store) List(ctx context.Context, filter storage.AssetFilter) ([]model.AssetRecord, error) {
	recs, err := s.backend.list(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("assets: list: %w", err)
	}
	return recs, nil
}

// Delete revokes any live object URL for id, then removes the asset.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.purge(id)
	if err := s.backend.delete(ctx, id); err != nil {
		return fmt.Errorf("assets: delete %s: %w", id, err)
	}
	return nil
}

// Close revokes every live object URL. Leases released afterwards are no-ops.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.urls {
		s.minter.Revoke(e.url)
		delete(s.urls, id)
	}
	for _, c := range s.inflight {
		c.purged = true
	}
}
