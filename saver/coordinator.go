// Package saver moves project content between the in-memory store, the
// local cache and the remote server.
//
// Information Hiding:
// - The save slot is claimed atomically; a second save while one is in
//   flight is dropped, not queued
// - Every write back into the store is pinned to the epoch that started the
//   request, so results for a project that was switched away are discarded
// - The dirty counter read before the request is the fence that decides
//   whether the dirty flag may be cleared
package saver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/richinex/canvasync/content"
	"github.com/richinex/canvasync/model"
)

// Remote persists content on the server.
type Remote interface {
	Save(ctx context.Context, projectID string, req model.SaveRequest) (model.SaveResponse, error)
}

// Sanitizer returns a persistable copy of content and the references it
// dropped.
type Sanitizer interface {
	Sanitize(doc model.Content) (model.Content, model.DroppedAssets)
}

// Preparer rewrites content before sanitization, e.g. uploading local
// assets. It must not modify its input.
type Preparer interface {
	Prepare(ctx context.Context, doc model.Content) (model.Content, error)
}

// Flusher pushes debounced edits into the store. FlushPending must apply
// them synchronously.
type Flusher interface {
	FlushPending()
}

// FlusherFunc adapts a func to Flusher.
type FlusherFunc func()

func (f FlusherFunc) FlushPending() { f() }

// CacheWriter refreshes the local cache row of a project.
type CacheWriter interface {
	Put(ctx context.Context, entry model.CacheEntry)
}

// Trigger names what started a save, for logs.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerAutosave Trigger = "autosave"
)

// SaveOptions controls one save.
type SaveOptions struct {
	CreateWorkflowHistory bool
	Trigger               Trigger
}

// SaveResult describes a finished save attempt.
type SaveResult struct {
	Skipped bool // No project open, not hydrated, or a save already in flight
	Version int64
	Dropped model.DroppedAssets
	Clean   bool // The dirty flag was cleared; false when edits raced the save
}

// Coordinator runs save round trips for one content store.
type Coordinator struct {
	store     *content.Store
	remote    Remote
	sanitizer Sanitizer
	preparer  Preparer
	cache     CacheWriter
	log       *slog.Logger

	mu       sync.Mutex
	flushers map[int]Flusher
	nextID   int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPreparer runs p on the snapshot before sanitization.
func WithPreparer(p Preparer) Option { return func(c *Coordinator) { c.preparer = p } }

// WithCache refreshes the cache row after every successful save.
func WithCache(w CacheWriter) Option { return func(c *Coordinator) { c.cache = w } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.log = l } }

// NewCoordinator creates a coordinator.
func NewCoordinator(store *content.Store, remote Remote, sanitizer Sanitizer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		remote:    remote,
		sanitizer: sanitizer,
		log:       slog.Default(),
		flushers:  make(map[int]Flusher),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterFlusher adds f to the flushers called before every snapshot. The
// returned func removes it.
func (c *Coordinator) RegisterFlusher(f Flusher) (unregister func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.flushers[id] = f
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.flushers, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) flush() {
	c.mu.Lock()
	fs := make([]Flusher, 0, len(c.flushers))
	for _, f := range c.flushers {
		fs = append(fs, f)
	}
	c.mu.Unlock()

	for _, f := range fs {
		f.FlushPending()
	}
}

// Save persists the open project. It returns a Skipped result when there is
// nothing it may save right now. Failures are recorded in the store as a
// user-facing message and also returned. ErrStale means the project was
// switched during the request and the outcome was discarded.
func (c *Coordinator) Save(ctx context.Context, opts SaveOptions) (SaveResult, error) {
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}

	epoch, ok := c.store.BeginSave()
	if !ok {
		return SaveResult{Skipped: true}, nil
	}
	g := c.store.Guard(epoch)
	defer g.SetSaving(false)

	c.flush()

	st, ok := g.Snapshot()
	if !ok {
		return SaveResult{}, ErrStale
	}
	if !st.Hydrated {
		return SaveResult{Skipped: true}, nil
	}
	baseline := st.DirtyCounter
	log := c.log.With("project_id", st.ProjectID, "trigger", string(opts.Trigger))

	doc := st.Content
	if c.preparer != nil {
		prepared, err := c.preparer.Prepare(ctx, doc)
		if err != nil {
			return SaveResult{}, c.fail(g, log, fmt.Errorf("prepare content: %w", err))
		}
		doc = prepared
	}

	sanitized, dropped := c.sanitizer.Sanitize(doc)
	g.SetWarning(droppedWarning(len(dropped.CanvasImageIDs), len(dropped.FlowNodeIDs)))
	if !dropped.Empty() {
		log.Warn("save omits unuploaded assets",
			"canvas_images", len(dropped.CanvasImageIDs), "flow_nodes", len(dropped.FlowNodeIDs))
	}

	start := time.Now()
	resp, err := c.remote.Save(ctx, st.ProjectID, model.SaveRequest{
		Content:               sanitized,
		Version:               st.Version,
		CreateWorkflowHistory: opts.CreateWorkflowHistory,
	})
	if err != nil {
		return SaveResult{Dropped: dropped}, c.fail(g, log, err)
	}

	if !g.MarkSaved(resp.Version, resp.UpdatedAt, baseline) {
		log.Info("discarding save result for a project that is no longer open", "version", resp.Version)
		return SaveResult{Version: resp.Version, Dropped: dropped}, ErrStale
	}
	if c.cache != nil {
		c.cache.Put(ctx, model.CacheEntry{
			ProjectID: st.ProjectID,
			Content:   sanitized,
			Version:   resp.Version,
			UpdatedAt: resp.UpdatedAt,
		})
	}

	after, _ := g.Snapshot()
	result := SaveResult{Version: resp.Version, Dropped: dropped, Clean: !after.Dirty}
	log.Info("project saved",
		"version", resp.Version, "baseline", baseline, "clean", result.Clean,
		"elapsed", time.Since(start))
	return result, nil
}

func (c *Coordinator) fail(g content.Guarded, log *slog.Logger, err error) error {
	kind := Classify(err)
	if !g.SetError(UserMessage(err)) {
		log.Info("discarding save failure for a project that is no longer open", "error", err)
		return ErrStale
	}
	log.Error("save failed", "kind", string(kind), "error", err)
	return fmt.Errorf("save: %w", err)
}
