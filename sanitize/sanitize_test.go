package sanitize

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/richinex/canvasync/model"
)

func testDoc() model.Content {
	return model.Content{
		"title": "poster",
		"canvas": map[string]any{
			"images": []any{
				map[string]any{"id": "img-1", "src": "https://cdn.test/a.png"},
				map[string]any{"id": "img-2", "src": "asset:7f1c"},
				map[string]any{"id": "img-3", "src": "blob:canvasync/123"},
			},
			"texts": []any{
				map[string]any{"id": "t1", "html": `<b>hi</b><script>alert(1)</script>`},
			},
		},
		"flow": map[string]any{
			"nodes": []any{
				map[string]any{"id": "n1", "data": map[string]any{"imageUrl": "http://cdn.test/n1.png"}},
				map[string]any{"id": "n2", "data": map[string]any{"imageUrl": "data:image/png;base64,AAAA"}},
				map[string]any{"id": "n3", "data": map[string]any{"label": "no image"}},
			},
		},
	}
}

func TestSanitizeDropsNonDurableImages(t *testing.T) {
	doc := testDoc()
	out, dropped := New().Sanitize(doc)

	want := model.DroppedAssets{
		CanvasImageIDs: []string{"img-2", "img-3"},
		FlowNodeIDs:    []string{"n2"},
	}
	if diff := cmp.Diff(want, dropped); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}

	images := out["canvas"].(map[string]any)["images"].([]any)
	if len(images) != 1 || images[0].(map[string]any)["id"] != "img-1" {
		t.Errorf("images = %v", images)
	}
	n2 := out["flow"].(map[string]any)["nodes"].([]any)[1].(map[string]any)["data"].(map[string]any)
	if _, ok := n2["imageUrl"]; ok {
		t.Errorf("n2 still has imageUrl: %v", n2)
	}
}

func TestSanitizeContentValuedObjects(t *testing.T) {
	doc := model.Content{
		"canvas": model.Content{
			"images": []any{
				model.Content{"id": "img-1", "src": "asset:abc"},
				model.Content{"id": "img-2", "src": "https://cdn.test/b.png"},
			},
		},
		"flow": model.Content{
			"nodes": []model.Content{
				{"id": "n1", "data": model.Content{"imageUrl": "asset:def"}},
			},
		},
	}
	out, dropped := New().Sanitize(doc)

	want := model.DroppedAssets{CanvasImageIDs: []string{"img-1"}, FlowNodeIDs: []string{"n1"}}
	if diff := cmp.Diff(want, dropped); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}
	images := out["canvas"].(model.Content)["images"].([]any)
	if len(images) != 1 {
		t.Fatalf("images = %v", images)
	}
	if img, _ := model.AsMap(images[0]); img["src"] != "https://cdn.test/b.png" {
		t.Errorf("images = %v", images)
	}
	node := out["flow"].(model.Content)["nodes"].([]model.Content)[0]
	if _, ok := node["data"].(model.Content)["imageUrl"]; ok {
		t.Error("non-durable flow image kept")
	}
	if doc["flow"].(model.Content)["nodes"].([]model.Content)[0]["data"].(model.Content)["imageUrl"] != "asset:def" {
		t.Error("input document was modified")
	}
}

func TestSanitizeCleansTextMarkup(t *testing.T) {
	out, _ := New().Sanitize(testDoc())
	html := out["canvas"].(map[string]any)["texts"].([]any)[0].(map[string]any)["html"].(string)
	if strings.Contains(html, "script") {
		t.Errorf("script survived: %q", html)
	}
	if !strings.Contains(html, "<b>hi</b>") {
		t.Errorf("allowed markup lost: %q", html)
	}
}

func TestSanitizeLeavesInputUntouched(t *testing.T) {
	doc := testDoc()
	before := doc.Clone()
	New().Sanitize(doc)
	if diff := cmp.Diff(before, doc); diff != "" {
		t.Errorf("input modified (-before +after):\n%s", diff)
	}
}

func TestSanitizeCleanDocument(t *testing.T) {
	doc := model.Content{"canvas": map[string]any{"images": []any{
		map[string]any{"id": "a", "src": "https://x.test/a.png"},
	}}}
	out, dropped := New().Sanitize(doc)
	if !dropped.Empty() {
		t.Errorf("dropped = %+v", dropped)
	}
	if diff := cmp.Diff(doc, out); diff != "" {
		t.Errorf("output differs (-want +got):\n%s", diff)
	}
}

func TestSanitizeNil(t *testing.T) {
	out, dropped := New().Sanitize(nil)
	if out != nil || !dropped.Empty() {
		t.Errorf("got %v, %+v", out, dropped)
	}
}

func TestDurable(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"https://cdn.test/a.png", true},
		{"http://cdn.test/a.png", true},
		{"asset:123", false},
		{"blob:canvasync/1", false},
		{"data:image/png;base64,AA", false},
		{"/relative/path.png", false},
		{"https://", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Durable(tt.ref); got != tt.want {
			t.Errorf("Durable(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}
