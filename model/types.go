// Package model provides domain types shared across packages.
package model

import (
	"time"
)

// Content is the opaque structured project document (layers, nodes,
// metadata). The engine only looks inside it for the "canvas" sub-object,
// which partial updates merge one level deep.
type Content map[string]any

// CanvasKey names the sub-object that Merge merges instead of replacing.
const CanvasKey = "canvas"

// UpdatedAtKey is stamped on the document by every dirtying edit.
const UpdatedAtKey = "updatedAt"

// Clone returns a deep copy. Maps and slices are copied recursively; other
// values are treated as immutable.
func (c Content) Clone() Content {
	if c == nil {
		return nil
	}
	return cloneMap(c)
}

// Merge returns a new document with partial applied on top of c: a shallow
// merge, except that a map under CanvasKey is merged into the existing
// canvas map. Neither input is modified.
func (c Content) Merge(partial Content) Content {
	out := make(Content, len(c)+len(partial))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range partial {
		if k == CanvasKey {
			if next, ok := AsMap(v); ok {
				prev, _ := AsMap(c[CanvasKey])
				merged := make(map[string]any, len(prev)+len(next))
				for pk, pv := range prev {
					merged[pk] = pv
				}
				for nk, nv := range next {
					merged[nk] = nv
				}
				out[k] = merged
				continue
			}
		}
		out[k] = v
	}
	return out
}

// AsMap returns v as a plain map when it is a JSON object, either decoded
// (map[string]any) or built in code (Content). The map shares storage with v.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Content:
		return m, true
	default:
		return nil, false
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Content:
		return Content(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneMap(e)
		}
		return out
	case []Content:
		out := make([]Content, len(t))
		for i, e := range t {
			out[i] = Content(cloneMap(e))
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

// ContentState is the full bookkeeping record of the open project.
type ContentState struct {
	ProjectID    string     // Empty when no project is open
	Content      Content    // Nil until hydrated
	Version      int64      // Server-issued optimistic-concurrency token
	Dirty        bool       // Unsaved local edits exist
	DirtySince   *time.Time // First unsaved edit, nil when clean
	DirtyCounter uint64     // Accepted edits since the last race-free save
	Saving       bool       // A save round trip is in flight
	LastSavedAt  *time.Time
	LastError    string
	LastWarning  string
	Hydrated     bool
	Epoch        uint64 // Generation of the open project, bumped on every switch
}

// ProjectMeta is the lightweight metadata the server reports for a project.
type ProjectMeta struct {
	ContentVersion int64     `json:"content_version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Project is a full project document as served by the remote endpoint.
type Project struct {
	ID        string    `json:"id"`
	Content   Content   `json:"content"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheEntry is one durable local cache row, keyed by ProjectID.
type CacheEntry struct {
	ProjectID string    `json:"project_id"`
	Content   Content   `json:"content"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"` // Server timestamp of the cached content
	CachedAt  time.Time `json:"cached_at"`  // When the row was written
}

// SaveRequest is the body of a remote save call.
type SaveRequest struct {
	Content               Content `json:"content"`
	Version               int64   `json:"version"`
	CreateWorkflowHistory bool    `json:"create_workflow_history"`
}

// SaveResponse is the server's acknowledgement of a save.
type SaveResponse struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DroppedAssets lists references removed by sanitization because their
// assets were never durably uploaded.
type DroppedAssets struct {
	CanvasImageIDs []string `json:"canvas_image_ids"`
	FlowNodeIDs    []string `json:"flow_node_ids"`
}

// Empty reports whether nothing was dropped.
func (d DroppedAssets) Empty() bool {
	return len(d.CanvasImageIDs) == 0 && len(d.FlowNodeIDs) == 0
}

// AssetRecord is a stored binary asset.
type AssetRecord struct {
	ID          string
	Blob        []byte
	CreatedAt   time.Time
	Size        int64
	ContentType string
	ProjectID   string // Optional
	NodeID      string // Optional
	Checksum    string // xxhash64 of Blob, hex
}
