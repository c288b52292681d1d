package content

import (
	"time"

	"github.com/richinex/canvasync/model"
)

// Guarded is a view of a Store pinned to one project generation. Its
// mutators apply only while the store still holds that generation and report
// whether they did; after a project switch they are silent no-ops.
type Guarded struct {
	store *Store
	epoch uint64
}

// Guard pins the store to epoch.
func (s *Store) Guard(epoch uint64) Guarded {
	return Guarded{store: s, epoch: epoch}
}

// Epoch returns the pinned generation.
func (g Guarded) Epoch() uint64 { return g.epoch }

// Current reports whether the pinned generation is still open.
func (g Guarded) Current() bool {
	return g.store.Epoch() == g.epoch
}

// Snapshot returns the state if the generation is still current.
func (g Guarded) Snapshot() (model.ContentState, bool) {
	st := g.store.Snapshot()
	if st.Epoch != g.epoch {
		return model.ContentState{}, false
	}
	return st, true
}

// Hydrate is Store.Hydrate for the pinned generation.
func (g Guarded) Hydrate(content model.Content, version int64, savedAt *time.Time) bool {
	return g.store.hydrate(g.epoch, content, version, savedAt)
}

// MarkSaved is Store.MarkSaved for the pinned generation.
func (g Guarded) MarkSaved(version int64, savedAt time.Time, baseline uint64) bool {
	return g.store.markSaved(g.epoch, version, savedAt, baseline)
}

// SetSaving is Store.SetSaving for the pinned generation.
func (g Guarded) SetSaving(saving bool) bool {
	return g.store.setSaving(g.epoch, saving)
}

// SetError is Store.SetError for the pinned generation.
func (g Guarded) SetError(msg string) bool {
	return g.store.setError(g.epoch, msg)
}

// SetWarning is Store.SetWarning for the pinned generation.
func (g Guarded) SetWarning(msg string) bool {
	return g.store.setWarning(g.epoch, msg)
}
