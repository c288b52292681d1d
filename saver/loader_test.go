package saver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/richinex/canvasync/cache"
	"github.com/richinex/canvasync/content"
	"github.com/richinex/canvasync/model"
	"github.com/richinex/canvasync/storage"
)

var serverTime = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type fakeSource struct {
	meta    model.ProjectMeta
	metaErr error
	project model.Project
	loadErr error
	onLoad  func()
	loads   atomic.Int32
}

func (f *fakeSource) Meta(context.Context, string) (model.ProjectMeta, error) {
	return f.meta, f.metaErr
}

func (f *fakeSource) Load(context.Context, string) (model.Project, error) {
	f.loads.Add(1)
	if f.onLoad != nil {
		f.onLoad()
	}
	return f.project, f.loadErr
}

func newSource() *fakeSource {
	return &fakeSource{
		meta: model.ProjectMeta{ContentVersion: 5, UpdatedAt: serverTime},
		project: model.Project{
			ID: "p1", Content: model.Content{"title": "server"}, Version: 5, UpdatedAt: serverTime,
		},
	}
}

func seededCache(t *testing.T, now time.Time, entry model.CacheEntry) *cache.Cache {
	t.Helper()
	lc := cache.New(storage.NewMemoryCache(), cache.WithClock(func() time.Time { return now }))
	lc.Put(context.Background(), entry)
	return lc
}

func TestOpenServesFreshCache(t *testing.T) {
	now := serverTime.Add(time.Hour)
	lc := seededCache(t, now, model.CacheEntry{
		ProjectID: "p1", Content: model.Content{"title": "cached"}, Version: 5, UpdatedAt: serverTime,
	})
	src := newSource()
	s := content.NewStore()

	res, err := NewLoader(s, src, lc).Open(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Source != SourceCache || res.Version != 5 {
		t.Errorf("result = %+v", res)
	}
	if src.loads.Load() != 0 {
		t.Error("content fetched despite a fresh cache entry")
	}
	st := s.Snapshot()
	if diff := cmp.Diff(model.Content{"title": "cached"}, st.Content); diff != "" {
		t.Errorf("content (-want +got):\n%s", diff)
	}
	if !st.Hydrated || st.Dirty || st.Version != 5 {
		t.Errorf("state = %+v", st)
	}
}

func TestOpenIgnoresStaleCache(t *testing.T) {
	now := serverTime.Add(time.Hour)
	lc := seededCache(t, now, model.CacheEntry{
		ProjectID: "p1", Content: model.Content{"title": "cached"}, Version: 4, UpdatedAt: serverTime,
	})
	src := newSource()
	s := content.NewStore()

	res, err := NewLoader(s, src, lc).Open(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Source != SourceRemote {
		t.Errorf("source = %s, want remote", res.Source)
	}
	if got := s.Snapshot().Content["title"]; got != "server" {
		t.Errorf("title = %v", got)
	}
	if entry := lc.Get(context.Background(), "p1"); entry == nil || entry.Version != 5 {
		t.Errorf("cache not refreshed: %+v", entry)
	}
}

func TestOpenSkipsCacheWithoutMeta(t *testing.T) {
	now := serverTime.Add(time.Hour)
	lc := seededCache(t, now, model.CacheEntry{
		ProjectID: "p1", Content: model.Content{"title": "cached"}, Version: 5, UpdatedAt: serverTime,
	})
	src := newSource()
	src.metaErr = errors.New("meta unavailable")

	res, err := NewLoader(content.NewStore(), src, lc).Open(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Source != SourceRemote || src.loads.Load() != 1 {
		t.Errorf("result = %+v, loads = %d", res, src.loads.Load())
	}
}

func TestOpenWithoutCache(t *testing.T) {
	s := content.NewStore()
	res, err := NewLoader(s, newSource(), nil).Open(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Source != SourceRemote {
		t.Errorf("source = %s", res.Source)
	}
	st := s.Snapshot()
	if st.LastSavedAt == nil || !st.LastSavedAt.Equal(serverTime) {
		t.Errorf("LastSavedAt = %v", st.LastSavedAt)
	}
}

func TestOpenDiscardedAfterSwitch(t *testing.T) {
	s := content.NewStore()
	src := newSource()
	src.onLoad = func() { s.SetProject("p2") }

	_, err := NewLoader(s, src, nil).Open(context.Background(), "p1")
	if !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	st := s.Snapshot()
	if st.ProjectID != "p2" || st.Hydrated {
		t.Errorf("p2 hydrated with p1 content: %+v", st)
	}
}

func TestOpenLoadFailure(t *testing.T) {
	src := newSource()
	src.loadErr = errors.New("boom")
	s := content.NewStore()

	_, err := NewLoader(s, src, nil).Open(context.Background(), "p1")
	if err == nil || errors.Is(err, ErrStale) {
		t.Fatalf("err = %v", err)
	}
	if st := s.Snapshot(); st.Hydrated || st.ProjectID != "p1" {
		t.Errorf("state = %+v", st)
	}
}

var errMissing = errors.New("no such project")

func isMissing(err error) bool { return errors.Is(err, errMissing) }

func TestOpenUnknownProjectStartsEmpty(t *testing.T) {
	src := newSource()
	src.loadErr = errMissing
	s := content.NewStore()

	res, err := NewLoader(s, src, nil, WithNotFound(isMissing)).Open(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !res.Created || res.Version != 0 || res.Epoch != s.Epoch() {
		t.Errorf("result = %+v", res)
	}
	st := s.Snapshot()
	if !st.Hydrated || st.Dirty || st.ProjectID != "p1" || len(st.Content) != 0 {
		t.Errorf("state = %+v", st)
	}
}

func TestOpenUnknownProjectDiscardedAfterSwitch(t *testing.T) {
	s := content.NewStore()
	src := newSource()
	src.loadErr = errMissing
	src.onLoad = func() { s.SetProject("p2") }

	_, err := NewLoader(s, src, nil, WithNotFound(isMissing)).Open(context.Background(), "p1")
	if !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if st := s.Snapshot(); st.ProjectID != "p2" || st.Hydrated {
		t.Errorf("p2 hydrated as an empty p1: %+v", st)
	}
}

func TestOpenReportsPinnedEpoch(t *testing.T) {
	s := content.NewStore()
	res, err := NewLoader(s, newSource(), nil).Open(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Epoch == 0 || res.Epoch != s.Epoch() {
		t.Errorf("epoch = %d, store epoch = %d", res.Epoch, s.Epoch())
	}
}
