package assets

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/richinex/canvasync/model"
	"github.com/richinex/canvasync/storage"
)

// Mode names the engine currently serving the store.
type Mode string

const (
	ModeDurable Mode = "durable"
	ModeMemory  Mode = "memory"
)

// DefaultProbeTimeout bounds the startup probe of the durable engine.
const DefaultProbeTimeout = 2 * time.Second

// selector routes every call to the durable engine until the first failure,
// then to memory for the rest of the session. The switch happens in degrade
// and nowhere else.
type selector struct {
	durable  storage.BlobBackend
	memory   *storage.MemoryBlobs
	degraded atomic.Bool
	once     sync.Once
	log      *slog.Logger
}

// newSelector probes durable once, bounded by timeout, and starts degraded
// when it is nil or the probe fails.
func newSelector(ctx context.Context, durable storage.BlobBackend, timeout time.Duration, log *slog.Logger) *selector {
	s := &selector{durable: durable, memory: storage.NewMemoryBlobs(), log: log}
	if durable == nil {
		s.degraded.Store(true)
		return s
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := durable.Ping(probeCtx); err != nil {
		s.degrade("probe", err)
	}
	return s
}

func (s *selector) mode() Mode {
	if s.degraded.Load() {
		return ModeMemory
	}
	return ModeDurable
}

func (s *selector) degrade(op string, err error) {
	s.degraded.Store(true)
	s.once.Do(func() {
		s.log.Warn("asset storage unavailable, falling back to memory for this session",
			"op", op, "error", err)
	})
}

// run executes fn on the durable engine, or on memory once degraded. A
// durable failure degrades the store and retries fn on memory. A failure
// caused by the caller's own context is returned as is: giving up is not a
// storage outage.
func (s *selector) run(ctx context.Context, op string, fn func(b storage.BlobBackend) error) error {
	if !s.degraded.Load() {
		err := fn(s.durable)
		if err == nil {
			return nil
		}
		if callerGaveUp(ctx, err) {
			return err
		}
		s.degrade(op, err)
	}
	return fn(s.memory)
}

func callerGaveUp(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *selector) put(ctx context.Context, records []model.AssetRecord) error {
	return s.run(ctx, "put", func(b storage.BlobBackend) error {
		return b.PutAssets(ctx, records)
	})
}

func (s *selector) get(ctx context.Context, id string) (*model.AssetRecord, error) {
	var rec *model.AssetRecord
	err := s.run(ctx, "get", func(b storage.BlobBackend) error {
		r, err := b.GetAsset(ctx, id)
		rec = r
		return err
	})
	return rec, err
}

func (s *selector) delete(ctx context.Context, id string) error {
	return s.run(ctx, "delete", func(b storage.BlobBackend) error {
		return b.DeleteAsset(ctx, id)
	})
}

func (s *selector) list(ctx context.Context, filter storage.AssetFilter) ([]model.AssetRecord, error) {
	var out []model.AssetRecord
	err := s.run(ctx, "list", func(b storage.BlobBackend) error {
		rs, err := b.ListAssets(ctx, filter)
		out = rs
		return err
	})
	return out, err
}
