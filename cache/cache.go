// Package cache keeps a durable local copy of each project's content that
// is only trusted once it is proven at least as fresh as the server.
//
// The cache is an optimization, never a source of truth: every storage
// failure is logged and reported to callers as a miss.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/richinex/canvasync/model"
	"github.com/richinex/canvasync/storage"
)

// DefaultTTL is how long a cached row may be served after it was written.
const DefaultTTL = 7 * 24 * time.Hour

// IsValid reports whether entry may be served for a project whose server
// metadata is meta. All three must hold:
//
//  1. entry.Version >= meta.ContentVersion
//  2. entry.UpdatedAt is not before meta.UpdatedAt
//  3. now - entry.CachedAt < ttl
//
// Zero timestamps never satisfy a clause. A nil entry is never valid.
func IsValid(entry *model.CacheEntry, meta model.ProjectMeta, now time.Time, ttl time.Duration) bool {
	if entry == nil {
		return false
	}
	if entry.Version < meta.ContentVersion {
		return false
	}
	if entry.UpdatedAt.IsZero() || meta.UpdatedAt.IsZero() || entry.UpdatedAt.Before(meta.UpdatedAt) {
		return false
	}
	if entry.CachedAt.IsZero() || now.Sub(entry.CachedAt) >= ttl {
		return false
	}
	return true
}

// Cache is the error-absorbing front of a CacheBackend.
type Cache struct {
	backend storage.CacheBackend
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for absorbed storage errors.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New wraps backend.
func New(backend storage.CacheBackend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		ttl:     DefaultTTL,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the raw row for projectID without checking validity, or nil
// on a miss or a storage failure.
func (c *Cache) Get(ctx context.Context, projectID string) *model.CacheEntry {
	entry, err := c.backend.GetEntry(ctx, projectID)
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", "project_id", projectID, "error", err)
		return nil
	}
	return entry
}

// Lookup returns the row for projectID only if it is valid against meta.
func (c *Cache) Lookup(ctx context.Context, projectID string, meta model.ProjectMeta) *model.CacheEntry {
	entry := c.Get(ctx, projectID)
	if entry == nil {
		return nil
	}
	if !IsValid(entry, meta, c.now(), c.ttl) {
		c.log.Debug("cache entry stale",
			"project_id", projectID,
			"cached_version", entry.Version,
			"server_version", meta.ContentVersion)
		return nil
	}
	return entry
}

// Put writes the row for entry.ProjectID. A zero CachedAt is stamped with
// the current time.
func (c *Cache) Put(ctx context.Context, entry model.CacheEntry) {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = c.now()
	}
	if err := c.backend.PutEntry(ctx, entry); err != nil {
		c.log.Warn("cache write failed", "project_id", entry.ProjectID, "error", err)
	}
}

// Delete removes the row for projectID.
func (c *Cache) Delete(ctx context.Context, projectID string) {
	if err := c.backend.DeleteEntry(ctx, projectID); err != nil {
		c.log.Warn("cache delete failed", "project_id", projectID, "error", err)
	}
}
