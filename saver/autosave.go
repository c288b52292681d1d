package saver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/richinex/canvasync/content"
)

// DefaultAutosaveInterval is how often the autosaver checks for edits.
const DefaultAutosaveInterval = 30 * time.Second

// Autosaver saves the open project periodically while it is dirty.
type Autosaver struct {
	store    *content.Store
	coord    *Coordinator
	interval time.Duration
	opts     SaveOptions
	log      *slog.Logger
}

// NewAutosaver creates an autosaver. A non-positive interval means
// DefaultAutosaveInterval.
func NewAutosaver(store *content.Store, coord *Coordinator, interval time.Duration, opts SaveOptions) *Autosaver {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	opts.Trigger = TriggerAutosave
	return &Autosaver{store: store, coord: coord, interval: interval, opts: opts, log: coord.log}
}

// failure remembers the edit count a save failed at, so the same edits are
// not resubmitted every tick. A new edit or another project clears it.
type failure struct {
	epoch   uint64
	counter uint64
}

// Run saves on every tick while the store is dirty and idle. It returns
// ctx.Err() when ctx is done.
func (a *Autosaver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	var failed *failure
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st := a.store.Snapshot()
		if st.ProjectID == "" || !st.Dirty || st.Saving {
			continue
		}
		if failed != nil && failed.epoch == st.Epoch && failed.counter == st.DirtyCounter {
			continue
		}

		_, err := a.coord.Save(ctx, a.opts)
		switch {
		case err == nil, errors.Is(err, ErrStale):
			failed = nil
		default:
			failed = &failure{epoch: st.Epoch, counter: st.DirtyCounter}
			a.log.Warn("autosave failed, waiting for further edits", "project_id", st.ProjectID, "error", err)
		}
	}
}
