package assets

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// urlEntry is the shared handle of one asset id.
type urlEntry struct {
	url  string
	refs int
}

// acquireCall is an outstanding first acquisition. Callers that arrive
// while it runs join it instead of reading the blob again; the entry is
// created with one ref per participant when the read completes.
type acquireCall struct {
	done    chan struct{}
	url     string
	err     error
	waiters int
	purged  bool

	// abandoned is set when err came from the leader's own context.
	abandoned bool
}

// Lease is one holder's share of an object URL. Release it exactly when the
// holder stops rendering; extra calls are ignored.
type Lease struct {
	store    *Store
	id       string
	url      string
	released atomic.Bool
}

// ID returns the asset id.
func (l *Lease) ID() string { return l.id }

// URL returns the shared object URL.
func (l *Lease) URL() string { return l.url }

// Release gives the share back. The URL is revoked when the last share of
// it is released.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.store.release(l.id, l.url)
	}
}

// Acquire returns a lease on the object URL of id, allocating the URL on
// first use. It returns nil, nil when the asset does not exist. Concurrent
// first acquisitions of the same id share one blob read and one URL.
func (s *Store) Acquire(ctx context.Context, id string) (*Lease, error) {
	s.mu.Lock()
	if e, ok := s.urls[id]; ok {
		e.refs++
		url := e.url
		s.mu.Unlock()
		return &Lease{store: s, id: id, url: url}, nil
	}
	if c, ok := s.inflight[id]; ok {
		c.waiters++
		s.mu.Unlock()
		<-c.done
		if c.abandoned && ctx.Err() == nil {
			// The leader gave up; read again under our own context.
			return s.Acquire(ctx, id)
		}
		return s.leaseFrom(id, c)
	}
	c := &acquireCall{done: make(chan struct{}), waiters: 1}
	s.inflight[id] = c
	s.mu.Unlock()

	rec, err := s.backend.get(ctx, id)

	s.mu.Lock()
	delete(s.inflight, id)
	switch {
	case err != nil:
		c.err = fmt.Errorf("assets: acquire %s: %w", id, err)
		c.abandoned = callerGaveUp(ctx, err)
	case rec != nil && !c.purged:
		c.url = s.minter.Mint(rec.Blob, rec.ContentType)
		s.urls[id] = &urlEntry{url: c.url, refs: c.waiters}
	}
	close(c.done)
	s.mu.Unlock()

	return s.leaseFrom(id, c)
}

func (s *Store) leaseFrom(id string, c *acquireCall) (*Lease, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.url == "" {
		return nil, nil
	}
	return &Lease{store: s, id: id, url: c.url}, nil
}

// release drops one ref of the entry for id, if it still holds url.
func (s *Store) release(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.urls[id]
	if !ok || e.url != url {
		// Purged or replaced after a delete; nothing of ours is left.
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(s.urls, id)
		s.minter.Revoke(url)
	}
}

// purge revokes the URL of id regardless of its refs and cancels the
// registration of any acquisition still reading it.
func (s *Store) purge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.urls[id]; ok {
		delete(s.urls, id)
		s.minter.Revoke(e.url)
	}
	if c, ok := s.inflight[id]; ok {
		c.purged = true
	}
}

// Refs returns the live share count of id's object URL, 0 if none.
func (s *Store) Refs(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.urls[id]; ok {
		return e.refs
	}
	return 0
}

// EphemeralURL is an unshared object URL owned by one consumer.
type EphemeralURL struct {
	url    string
	once   sync.Once
	revoke func()
}

// URL returns the handle.
func (e *EphemeralURL) URL() string { return e.url }

// Revoke frees the handle. Only the first call has an effect.
func (e *EphemeralURL) Revoke() { e.once.Do(e.revoke) }

// Ephemeral allocates a private object URL for id that never enters the
// shared cache. It returns nil, nil when the asset does not exist.
func (s *Store) Ephemeral(ctx context.Context, id string) (*EphemeralURL, error) {
	rec, err := s.backend.get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("assets: ephemeral %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	url := s.minter.Mint(rec.Blob, rec.ContentType)
	return &EphemeralURL{url: url, revoke: func() { s.minter.Revoke(url) }}, nil
}
