package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/richinex/canvasync/config"
	"github.com/richinex/canvasync/internal/sqlitedb"
	"github.com/richinex/canvasync/remote"
	"github.com/richinex/canvasync/server"
	"github.com/richinex/canvasync/storage"
)

type env struct {
	opts   Options
	out    *bytes.Buffer
	client *remote.Client
	dir    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv, err := server.Open(sqlitedb.Memory)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	dir := t.TempDir()
	settings := config.Defaults()
	settings.Remote.URL = hs.URL
	settings.Cache.Path = filepath.Join(dir, "cache.db")
	settings.Assets.Path = filepath.Join(dir, "assets.db")
	settings.Save.AutosaveInterval = 0

	out := &bytes.Buffer{}
	return &env{
		opts: Options{
			Settings: settings,
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			Out:      out,
		},
		out:    out,
		client: remote.New(hs.URL),
		dir:    dir,
	}
}

func (e *env) file(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSaveThenOpenFromCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.file(t, "doc.json", `{"title": "poster"}`)

	if err := Save(ctx, "p1", doc, e.opts); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.Contains(e.out.String(), "Saved version 1") {
		t.Errorf("output = %q", e.out.String())
	}

	e.out.Reset()
	if err := Open(ctx, "p1", e.opts); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !strings.Contains(e.out.String(), "version 1, from cache") {
		t.Errorf("output = %q", e.out.String())
	}

	if err := Save(ctx, "p1", e.file(t, "doc2.json", `{"body": "text"}`), e.opts); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	p, err := e.client.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Version != 2 || p.Content["title"] != "poster" || p.Content["body"] != "text" {
		t.Errorf("server project = %+v", p)
	}
}

func TestOpenUnknownProject(t *testing.T) {
	e := newEnv(t)
	if err := Open(context.Background(), "fresh", e.opts); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !strings.Contains(e.out.String(), "New project fresh") {
		t.Errorf("output = %q", e.out.String())
	}
}

func TestEditUploadsLocalImages(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	png := e.file(t, "a.png", "\x89PNG\r\n\x1a\n0000")

	script := strings.Join([]string{
		"image " + png,
		`set title "cover"`,
		"bogus",
		"save",
		"status",
		"quit",
	}, "\n")
	if err := Edit(ctx, "p1", strings.NewReader(script), e.opts); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	out := e.out.String()
	for _, want := range []string{"Added image", `unknown command "bogus"`, "Saved version 1", "p1: version 1, saved"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Warning:") {
		t.Errorf("unexpected warning:\n%s", out)
	}

	p, err := e.client.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	images := p.Content["canvas"].(map[string]any)["images"].([]any)
	if len(images) != 1 {
		t.Fatalf("images = %v", images)
	}
	src := images[0].(map[string]any)["src"].(string)
	if !strings.HasPrefix(src, "http://") || !strings.Contains(src, "/uploads/") {
		t.Errorf("image src not durable: %q", src)
	}
}

func TestEditSavesOnExit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := Edit(ctx, "p1", strings.NewReader(`canvas width 800`), e.opts); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	p, err := e.client.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w := p.Content["canvas"].(map[string]any)["width"]; w != 800.0 {
		t.Errorf("canvas width = %v", w)
	}
}

func TestAssetCommands(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	path := e.file(t, "a.bin", "payload")

	if err := AssetsPut(ctx, []string{path}, "p1", e.opts); err != nil {
		t.Fatalf("AssetsPut: %v", err)
	}
	id, _, _ := strings.Cut(e.out.String(), "\t")
	if id == "" {
		t.Fatalf("no id in output %q", e.out.String())
	}

	e.out.Reset()
	if err := AssetsList(ctx, storage.AssetFilter{ProjectID: "p1"}, e.opts); err != nil {
		t.Fatalf("AssetsList: %v", err)
	}
	if !strings.Contains(e.out.String(), id) {
		t.Errorf("list output = %q", e.out.String())
	}

	dest := filepath.Join(e.dir, "out.bin")
	if err := AssetsGet(ctx, id, dest, e.opts); err != nil {
		t.Fatalf("AssetsGet: %v", err)
	}
	if got, _ := os.ReadFile(dest); string(got) != "payload" {
		t.Errorf("blob = %q", got)
	}

	if err := AssetsDelete(ctx, []string{id}, e.opts); err != nil {
		t.Fatalf("AssetsDelete: %v", err)
	}
	if err := AssetsGet(ctx, id, "", e.opts); err == nil {
		t.Error("expected error for deleted asset")
	}
}

func TestCacheCommands(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := Save(ctx, "p1", e.file(t, "doc.json", `{"a": 1}`), e.opts); err != nil {
		t.Fatalf("Save: %v", err)
	}

	e.out.Reset()
	if err := CacheShow(ctx, "p1", e.opts); err != nil {
		t.Fatalf("CacheShow: %v", err)
	}
	if !strings.Contains(e.out.String(), "Valid:      true") {
		t.Errorf("output = %q", e.out.String())
	}

	e.out.Reset()
	if err := CacheClear(ctx, "p1", e.opts); err != nil {
		t.Fatalf("CacheClear: %v", err)
	}
	e.out.Reset()
	CacheShow(ctx, "p1", e.opts)
	if !strings.Contains(e.out.String(), "No cache entry") {
		t.Errorf("output = %q", e.out.String())
	}
}
