// Package sanitize prepares a project document for persistence: it removes
// references to assets that only exist locally and cleans user-authored
// markup.
package sanitize

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
	"github.com/richinex/canvasync/model"
)

// Document keys inspected by the sanitizer.
const (
	keyImages   = "images"
	keyTexts    = "texts"
	keyFlow     = "flow"
	keyNodes    = "nodes"
	keyData     = "data"
	keyID       = "id"
	keySrc      = "src"
	keyHTML     = "html"
	keyImageURL = "imageUrl"
)

// Sanitizer is the default sanitization policy. It is safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New returns a sanitizer that cleans text layers with the UGC policy.
func New() *Sanitizer {
	return &Sanitizer{policy: bluemonday.UGCPolicy()}
}

// Sanitize returns a cleaned deep copy of doc and the ids of canvas images
// and flow nodes whose image references were dropped because they are not
// durable. doc is not modified.
func (s *Sanitizer) Sanitize(doc model.Content) (model.Content, model.DroppedAssets) {
	out := doc.Clone()
	dropped := model.DroppedAssets{}
	if out == nil {
		return nil, dropped
	}

	if canvas, ok := model.AsMap(out[model.CanvasKey]); ok {
		if images, ok := objects(canvas[keyImages]); ok {
			kept := make([]any, 0, len(images))
			for _, img := range images {
				src, _ := img[keySrc].(string)
				if !Durable(src) {
					dropped.CanvasImageIDs = append(dropped.CanvasImageIDs, idOf(img))
					continue
				}
				kept = append(kept, img)
			}
			canvas[keyImages] = kept
		}
		if texts, ok := objects(canvas[keyTexts]); ok {
			for _, txt := range texts {
				if html, ok := txt[keyHTML].(string); ok {
					txt[keyHTML] = s.policy.Sanitize(html)
				}
			}
		}
	}

	if flow, ok := model.AsMap(out[keyFlow]); ok {
		if nodes, ok := objects(flow[keyNodes]); ok {
			for _, node := range nodes {
				data, ok := model.AsMap(node[keyData])
				if !ok {
					continue
				}
				ref, ok := data[keyImageURL].(string)
				if !ok || ref == "" || Durable(ref) {
					continue
				}
				delete(data, keyImageURL)
				dropped.FlowNodeIDs = append(dropped.FlowNodeIDs, idOf(node))
			}
		}
	}
	return out, dropped
}

// Durable reports whether ref is an absolute http(s) URL, the only kind of
// image reference that survives a reload on another machine.
func Durable(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// objects returns the map elements of a JSON array. Cloned documents keep
// the slice and map types they were built with, so every shape is accepted.
func objects(v any) ([]map[string]any, bool) {
	switch arr := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(arr))
		for _, e := range arr {
			if m, ok := model.AsMap(e); ok {
				out = append(out, m)
			}
		}
		return out, true
	case []map[string]any:
		return arr, true
	case []model.Content:
		out := make([]map[string]any, len(arr))
		for i, e := range arr {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

func idOf(m map[string]any) string {
	id, _ := m[keyID].(string)
	return id
}
