// Package content holds the in-memory state of the open project.
//
// Information Hiding:
// - The state record is only reachable through reducer methods and copies
// - Every reducer runs under one mutex, so each change is atomic
// - Project switches bump an epoch; Guard(epoch) turns late writes into no-ops
package content

import (
	"sync"
	"time"

	"github.com/richinex/canvasync/model"
)

// Store is the authoritative in-memory snapshot of the open project plus its
// dirty/version bookkeeping. One Store is constructed per editor session and
// shared by reference. Exactly one project is open at a time.
type Store struct {
	mu        sync.Mutex
	state     model.ContentState
	now       func() time.Time
	listeners map[int]func(model.ContentState)
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store with no open project.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:       time.Now,
		listeners: make(map[int]func(model.ContentState)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// anyEpoch disables the epoch comparison in update.
const anyEpoch = 0

// update applies fn to the state under the lock when epoch matches (or is
// anyEpoch) and fn reports a change, then notifies listeners.
func (s *Store) update(epoch uint64, fn func(st *model.ContentState) bool) bool {
	s.mu.Lock()
	if epoch != anyEpoch && s.state.Epoch != epoch {
		s.mu.Unlock()
		return false
	}
	if !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	snapshot := copyState(s.state)
	listeners := make([]func(model.ContentState), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return true
}

// Snapshot returns a copy of the current state. The content is deep-copied,
// so callers may keep it across suspension points.
func (s *Store) Snapshot() model.ContentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state)
}

// Epoch returns the generation of the currently open project.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Epoch
}

// Subscribe registers fn to be called with a state copy after every applied
// change. The returned func removes the listener.
func (s *Store) Subscribe(fn func(model.ContentState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SetProject resets every field and opens id. An empty id closes the
// project. The epoch always advances, so in-flight work for the previous
// project is fenced off. It returns the new epoch.
func (s *Store) SetProject(id string) (epoch uint64) {
	s.update(anyEpoch, func(st *model.ContentState) bool {
		*st = model.ContentState{ProjectID: id, Epoch: st.Epoch + 1}
		epoch = st.Epoch
		return true
	})
	return epoch
}

// Reset closes the open project.
func (s *Store) Reset() {
	s.SetProject("")
}

// Hydrate replaces content and version wholesale with server truth and
// clears all dirty state, whatever it was.
func (s *Store) Hydrate(content model.Content, version int64, savedAt *time.Time) {
	s.hydrate(anyEpoch, content, version, savedAt)
}

func (s *Store) hydrate(epoch uint64, content model.Content, version int64, savedAt *time.Time) bool {
	return s.update(epoch, func(st *model.ContentState) bool {
		if st.ProjectID == "" {
			return false
		}
		st.Content = content.Clone()
		st.Version = version
		st.Dirty = false
		st.DirtySince = nil
		st.DirtyCounter = 0
		st.LastError = ""
		st.Hydrated = true
		if savedAt != nil {
			t := *savedAt
			st.LastSavedAt = &t
		}
		return true
	})
}

type updateConfig struct {
	markDirty bool
}

// UpdateOption configures UpdatePartial.
type UpdateOption func(*updateConfig)

// WithoutDirty applies an externally sourced update that must not count as
// a user edit.
func WithoutDirty() UpdateOption {
	return func(c *updateConfig) { c.markDirty = false }
}

// UpdatePartial merges partial into the current content. A dirtying update
// increments DirtyCounter exactly once, starts DirtySince if unset, stamps
// the document's updatedAt and clears LastError. No-op without an open
// project.
func (s *Store) UpdatePartial(partial model.Content, opts ...UpdateOption) {
	cfg := updateConfig{markDirty: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.update(anyEpoch, func(st *model.ContentState) bool {
		if st.ProjectID == "" {
			return false
		}
		next := st.Content.Merge(partial.Clone())
		if !cfg.markDirty {
			st.Content = next
			return true
		}

		now := s.now()
		next[model.UpdatedAtKey] = now.UTC().Format(time.RFC3339Nano)
		st.Content = next
		st.DirtyCounter++
		st.Dirty = true
		if st.DirtySince == nil {
			st.DirtySince = &now
		}
		st.LastError = ""
		return true
	})
}

// BeginSave atomically claims the save slot: it succeeds only when a
// project is open and no save is in flight, and sets Saving. The returned
// epoch identifies the project the save belongs to.
func (s *Store) BeginSave() (epoch uint64, ok bool) {
	s.update(anyEpoch, func(st *model.ContentState) bool {
		if st.ProjectID == "" || st.Saving {
			return false
		}
		st.Saving = true
		epoch = st.Epoch
		ok = true
		return true
	})
	return epoch, ok
}

// SetSaving sets the in-flight flag.
func (s *Store) SetSaving(saving bool) {
	s.setSaving(anyEpoch, saving)
}

func (s *Store) setSaving(epoch uint64, saving bool) bool {
	return s.update(epoch, func(st *model.ContentState) bool {
		if st.Saving == saving {
			return false
		}
		st.Saving = saving
		return true
	})
}

// MarkSaved acknowledges a completed server write. baseline is the
// DirtyCounter observed when the saved snapshot was read. If more edits
// arrived since, the dirty fields are kept so those edits are still owed a
// save; version and LastSavedAt advance either way. Version never moves
// backwards.
func (s *Store) MarkSaved(version int64, savedAt time.Time, baseline uint64) {
	s.markSaved(anyEpoch, version, savedAt, baseline)
}

func (s *Store) markSaved(epoch uint64, version int64, savedAt time.Time, baseline uint64) bool {
	return s.update(epoch, func(st *model.ContentState) bool {
		if st.ProjectID == "" {
			return false
		}
		if version > st.Version {
			st.Version = version
		}
		t := savedAt
		st.LastSavedAt = &t
		if st.DirtyCounter > baseline {
			return true
		}
		st.Dirty = false
		st.DirtySince = nil
		st.DirtyCounter = 0
		st.LastError = ""
		return true
	})
}

// SetError records a save failure and drops the in-flight flag. A non-empty
// message marks the state dirty from now on if it was not already, so no
// stale "saved" indicator survives a failure. No-op without an open project.
func (s *Store) SetError(msg string) {
	s.setError(anyEpoch, msg)
}

func (s *Store) setError(epoch uint64, msg string) bool {
	return s.update(epoch, func(st *model.ContentState) bool {
		if st.ProjectID == "" {
			return false
		}
		st.LastError = msg
		st.Saving = false
		if msg != "" {
			st.Dirty = true
			if st.DirtySince == nil {
				now := s.now()
				st.DirtySince = &now
			}
		}
		return true
	})
}

// SetWarning records a non-fatal message; empty clears it.
func (s *Store) SetWarning(msg string) {
	s.setWarning(anyEpoch, msg)
}

func (s *Store) setWarning(epoch uint64, msg string) bool {
	return s.update(epoch, func(st *model.ContentState) bool {
		if st.LastWarning == msg {
			return false
		}
		st.LastWarning = msg
		return true
	})
}

func copyState(st model.ContentState) model.ContentState {
	out := st
	out.Content = st.Content.Clone()
	if st.DirtySince != nil {
		t := *st.DirtySince
		out.DirtySince = &t
	}
	if st.LastSavedAt != nil {
		t := *st.LastSavedAt
		out.LastSavedAt = &t
	}
	return out
}
