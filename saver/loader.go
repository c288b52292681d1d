package saver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/richinex/canvasync/content"
	"github.com/richinex/canvasync/model"
)

// ProjectSource reads projects from the server.
type ProjectSource interface {
	Meta(ctx context.Context, projectID string) (model.ProjectMeta, error)
	Load(ctx context.Context, projectID string) (model.Project, error)
}

// CacheReader is the local cache as seen by the loader. *cache.Cache
// satisfies it.
type CacheReader interface {
	Lookup(ctx context.Context, projectID string, meta model.ProjectMeta) *model.CacheEntry
	Put(ctx context.Context, entry model.CacheEntry)
}

// Source names where opened content came from.
type Source string

const (
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
)

// LoadResult describes an opened project.
type LoadResult struct {
	Source  Source
	Version int64
	Epoch   uint64 // Store generation this open was pinned to
	Created bool   // Opened empty because the server does not know the project
}

// Loader opens projects into a content store, preferring a cache entry that
// is proven fresh against server metadata.
type Loader struct {
	store    *content.Store
	source   ProjectSource
	cache    CacheReader
	notFound func(error) bool
	log      *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger.
func WithLoaderLogger(l *slog.Logger) LoaderOption { return func(ld *Loader) { ld.log = l } }

// WithNotFound makes Open start an empty project at version 0 when the
// load error satisfies isNotFound, so the first save creates it.
func WithNotFound(isNotFound func(error) bool) LoaderOption {
	return func(ld *Loader) { ld.notFound = isNotFound }
}

// NewLoader creates a loader. cache may be nil.
func NewLoader(store *content.Store, source ProjectSource, cache CacheReader, opts ...LoaderOption) *Loader {
	l := &Loader{store: store, source: source, cache: cache, log: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open switches the store to projectID and hydrates it. Without fresh
// metadata the cache is not trusted. ErrStale means another project was
// opened before this one finished loading.
func (l *Loader) Open(ctx context.Context, projectID string) (LoadResult, error) {
	epoch := l.store.SetProject(projectID)
	g := l.store.Guard(epoch)
	log := l.log.With("project_id", projectID)

	if l.cache != nil {
		meta, err := l.source.Meta(ctx, projectID)
		switch {
		case err != nil:
			log.Warn("project metadata unavailable, skipping cache", "error", err)
		default:
			if entry := l.cache.Lookup(ctx, projectID, meta); entry != nil {
				if !g.Hydrate(entry.Content, entry.Version, savedAt(entry.UpdatedAt)) {
					return LoadResult{}, ErrStale
				}
				log.Debug("project opened from cache", "version", entry.Version)
				return LoadResult{Source: SourceCache, Version: entry.Version, Epoch: epoch}, nil
			}
		}
	}

	p, err := l.source.Load(ctx, projectID)
	if err != nil {
		if !g.Current() {
			return LoadResult{}, ErrStale
		}
		if l.notFound != nil && l.notFound(err) {
			if !g.Hydrate(model.Content{}, 0, nil) {
				return LoadResult{}, ErrStale
			}
			log.Info("starting new project")
			return LoadResult{Source: SourceRemote, Epoch: epoch, Created: true}, nil
		}
		return LoadResult{Epoch: epoch}, fmt.Errorf("load project %s: %w", projectID, err)
	}
	if !g.Hydrate(p.Content, p.Version, savedAt(p.UpdatedAt)) {
		return LoadResult{}, ErrStale
	}
	if l.cache != nil {
		l.cache.Put(ctx, model.CacheEntry{
			ProjectID: projectID,
			Content:   p.Content,
			Version:   p.Version,
			UpdatedAt: p.UpdatedAt,
		})
	}
	log.Debug("project opened from server", "version", p.Version)
	return LoadResult{Source: SourceRemote, Version: p.Version, Epoch: epoch}, nil
}

func savedAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
