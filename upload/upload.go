// Package upload moves locally stored assets referenced by a project
// document to durable storage before the document is saved.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/richinex/canvasync/limiter"
	"github.com/richinex/canvasync/model"
)

// RefPrefix marks a document string that points at a local asset id.
const RefPrefix = "asset:"

// Transport stores bytes durably and returns their public URL.
type Transport interface {
	Upload(ctx context.Context, contentType string, data []byte) (string, error)
}

// Source reads local assets. *assets.Store satisfies it.
type Source interface {
	Record(ctx context.Context, id string) (*model.AssetRecord, error)
}

// Uploader rewrites local asset references to durable URLs, uploading
// through a shared limiter.
type Uploader struct {
	source    Source
	transport Transport
	limiter   *limiter.Limiter
	log       *slog.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(u *Uploader) { u.log = l } }

// New creates an uploader. Uploads share lim with every other caller of it.
func New(source Source, transport Transport, lim *limiter.Limiter, opts ...Option) *Uploader {
	u := &Uploader{source: source, transport: transport, limiter: lim, log: slog.Default()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Prepare returns a copy of doc in which every "asset:<id>" reference whose
// upload succeeded is replaced by the durable URL. References that could not
// be uploaded are left in place. The returned error is non-nil only when ctx
// ended before all uploads were admitted.
func (u *Uploader) Prepare(ctx context.Context, doc model.Content) (model.Content, error) {
	out := doc.Clone()
	ids := Refs(out)
	if len(ids) == 0 {
		return out, nil
	}

	urls, err := limiter.MapWith(ctx, u.limiter, ids, func(ctx context.Context, _ int, id string) (string, error) {
		url, err := u.uploadOne(ctx, id)
		if err != nil {
			u.log.Warn("asset upload failed", "asset_id", id, "error", err)
			return "", nil
		}
		return url, nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	durable := make(map[string]string, len(ids))
	for i, id := range ids {
		if urls[i] != "" {
			durable[RefPrefix+id] = urls[i]
		}
	}
	rewrite(out, durable)
	return out, nil
}

var errMissing = errors.New("asset not found")

func (u *Uploader) uploadOne(ctx context.Context, id string) (string, error) {
	rec, err := u.source.Record(ctx, id)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", errMissing
	}
	return u.transport.Upload(ctx, rec.ContentType, rec.Blob)
}

// Refs returns the distinct local asset ids referenced anywhere in doc,
// sorted.
func Refs(doc model.Content) []string {
	seen := make(map[string]struct{})
	walk(map[string]any(doc), func(s string) (string, bool) {
		if id, ok := strings.CutPrefix(s, RefPrefix); ok && id != "" {
			seen[id] = struct{}{}
		}
		return "", false
	})
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func rewrite(doc model.Content, durable map[string]string) {
	if len(durable) == 0 {
		return
	}
	walk(map[string]any(doc), func(s string) (string, bool) {
		url, ok := durable[s]
		return url, ok
	})
}

// walk visits every string in v and replaces it in place when visit says so.
func walk(v any, visit func(string) (string, bool)) {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			if s, ok := e.(string); ok {
				if r, ok := visit(s); ok {
					t[k] = r
				}
				continue
			}
			walk(e, visit)
		}
	case model.Content:
		walk(map[string]any(t), visit)
	case []any:
		for i, e := range t {
			if s, ok := e.(string); ok {
				if r, ok := visit(s); ok {
					t[i] = r
				}
				continue
			}
			walk(e, visit)
		}
	case []map[string]any:
		for _, e := range t {
			walk(e, visit)
		}
	}
}
