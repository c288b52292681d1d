package storage

import (
	"context"
	"testing"
	"time"

	"github.com/richinex/canvasync/model"
)

func TestMemoryCacheReturnsCopies(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	entry := model.CacheEntry{ProjectID: "p1", Content: model.Content{"title": "a"}, Version: 1}
	if err := cache.PutEntry(ctx, entry); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	entry.Content["title"] = "mutated after put"

	got, err := cache.GetEntry(ctx, "p1")
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.Content["title"] != "a" {
		t.Errorf("expected stored copy, got %v", got.Content["title"])
	}

	got.Content["title"] = "mutated after get"
	again, _ := cache.GetEntry(ctx, "p1")
	if again.Content["title"] != "a" {
		t.Errorf("GetEntry leaked internal state: %v", again.Content["title"])
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	_ = cache.PutEntry(ctx, model.CacheEntry{ProjectID: "p1"})
	if err := cache.DeleteEntry(ctx, "p1"); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if got, _ := cache.GetEntry(ctx, "p1"); got != nil {
		t.Error("expected entry to be gone")
	}
	if err := cache.DeleteEntry(ctx, "never-existed"); err != nil {
		t.Errorf("deleting a missing row should succeed, got %v", err)
	}
}

func TestMemoryBlobsRoundTrip(t *testing.T) {
	blobs := NewMemoryBlobs()
	ctx := context.Background()

	blob := []byte("pixels")
	rec := model.AssetRecord{ID: "a1", Blob: blob, CreatedAt: time.Now(), Size: int64(len(blob)), Checksum: Checksum(blob)}
	if err := blobs.PutAssets(ctx, []model.AssetRecord{rec}); err != nil {
		t.Fatalf("PutAssets failed: %v", err)
	}
	blob[0] = 'X'

	got, err := blobs.GetAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if string(got.Blob) != "pixels" {
		t.Errorf("expected stored copy, got %q", got.Blob)
	}

	_ = blobs.DeleteAsset(ctx, "a1")
	if got, _ := blobs.GetAsset(ctx, "a1"); got != nil {
		t.Error("expected asset to be gone")
	}
}

func TestMemoryBlobsListAssets(t *testing.T) {
	blobs := NewMemoryBlobs()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = blobs.PutAssets(ctx, []model.AssetRecord{
		{ID: "b", ProjectID: "p1", CreatedAt: base.Add(time.Hour), Blob: []byte("2")},
		{ID: "a", ProjectID: "p1", CreatedAt: base, Blob: []byte("1")},
		{ID: "c", ProjectID: "p2", CreatedAt: base, Blob: []byte("3")},
	})

	got, err := blobs.ListAssets(ctx, AssetFilter{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("ListAssets failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("unexpected listing %+v", got)
	}
	if got[0].Blob != nil {
		t.Error("ListAssets should not return blobs")
	}
}

func TestChecksumIsStable(t *testing.T) {
	a := Checksum([]byte("hello"))
	if a != Checksum([]byte("hello")) {
		t.Error("checksum is not deterministic")
	}
	if a == Checksum([]byte("hellp")) {
		t.Error("different input produced the same checksum")
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
}
