package assets

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Minter allocates renderable handles (object URLs) for blobs. A minted URL
// stays resolvable until it is revoked.
type Minter interface {
	Mint(blob []byte, contentType string) string
	Revoke(url string)
}

// URLPrefix starts every URL minted by Handles.
const URLPrefix = "blob:canvasync/"

// Handles is the in-process Minter: it keeps minted payloads resolvable by
// URL so renderers and exporters can read them back.
type Handles struct {
	mu      sync.RWMutex
	live    map[string]handle
	minted  atomic.Int64
	revoked atomic.Int64
}

type handle struct {
	blob        []byte
	contentType string
}

// NewHandles creates an empty handle registry.
func NewHandles() *Handles {
	return &Handles{live: make(map[string]handle)}
}

// Mint registers blob under a fresh URL.
func (h *Handles) Mint(blob []byte, contentType string) string {
	url := URLPrefix + uuid.NewString()
	h.mu.Lock()
	h.live[url] = handle{blob: blob, contentType: contentType}
	h.mu.Unlock()
	h.minted.Add(1)
	return url
}

// Revoke drops url. Revoking an unknown or already revoked URL is a no-op.
func (h *Handles) Revoke(url string) {
	h.mu.Lock()
	_, ok := h.live[url]
	delete(h.live, url)
	h.mu.Unlock()
	if ok {
		h.revoked.Add(1)
	}
}

// Resolve returns the payload behind a live URL.
func (h *Handles) Resolve(url string) (blob []byte, contentType string, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hd, ok := h.live[url]
	return hd.blob, hd.contentType, ok
}

// Live returns the number of unrevoked URLs.
func (h *Handles) Live() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// Minted returns how many URLs were ever allocated.
func (h *Handles) Minted() int64 { return h.minted.Load() }

// Revoked returns how many URLs were revoked.
func (h *Handles) Revoked() int64 { return h.revoked.Load() }
