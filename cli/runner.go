// Command execution for CLI commands.
//
// Information Hiding:
// - Session wiring hidden behind OpenSession
// - Interactive edit loop hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/richinex/canvasync/assets"
	"github.com/richinex/canvasync/config"
	"github.com/richinex/canvasync/model"
	"github.com/richinex/canvasync/saver"
	"github.com/richinex/canvasync/server"
	"github.com/richinex/canvasync/storage"
	"github.com/richinex/canvasync/upload"
)

// Options holds CLI execution options.
type Options struct {
	Settings config.Settings
	Logger   *slog.Logger
	Out      io.Writer
	Verbose  bool
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func withSession(ctx context.Context, opts Options, fn func(*Session) error) error {
	s, err := OpenSession(ctx, opts.Settings, opts.logger())
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Serve runs the reference project server until ctx is done.
func Serve(ctx context.Context, opts Options) error {
	cfg := opts.Settings.Server
	srv, err := server.Open(cfg.DB,
		server.WithLogger(opts.logger()),
		server.WithMaxBody(cfg.MaxBody),
		server.WithPublicURL(cfg.PublicURL))
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.ListenAndServe(ctx, cfg.Addr)
}

// Open loads a project and prints where it came from and its content.
func Open(ctx context.Context, projectID string, opts Options) error {
	return withSession(ctx, opts, func(s *Session) error {
		res, err := s.Open(ctx, projectID)
		if err != nil {
			return err
		}
		w := opts.out()
		if res.Created {
			fmt.Fprintf(w, "New project %s\n", projectID)
			return nil
		}
		fmt.Fprintf(w, "Opened %s (version %d, from %s)\n", projectID, res.Version, res.Source)
		if opts.Verbose {
			return printJSON(w, s.Store.Snapshot().Content)
		}
		return nil
	})
}

// Save opens a project, applies the JSON document in path as an edit and
// saves it.
func Save(ctx context.Context, projectID, path string, opts Options) error {
	edit, err := readDocument(path)
	if err != nil {
		return err
	}
	return withSession(ctx, opts, func(s *Session) error {
		if _, err := s.Open(ctx, projectID); err != nil {
			return err
		}
		s.Store.UpdatePartial(edit)
		res, err := s.Coordinator.Save(ctx, s.SaveOptions(saver.TriggerManual))
		if err != nil {
			return err
		}
		printSaveResult(opts.out(), res, s.Store.Snapshot())
		return nil
	})
}

// Edit runs an interactive editing session on projectID, reading commands
// from in. The project is autosaved while dirty and saved once more on exit.
func Edit(ctx context.Context, projectID string, in io.Reader, opts Options) error {
	return withSession(ctx, opts, func(s *Session) error {
		res, err := s.Open(ctx, projectID)
		if err != nil {
			return err
		}
		w := opts.out()
		fmt.Fprintf(w, "Editing %s (version %d, from %s)\n", projectID, res.Version, res.Source)
		fmt.Fprintln(w, "Commands: set <key> <json>, canvas <key> <json>, image <path>, save, status, show, quit")

		autoCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		autoDone := make(chan struct{})
		if interval := opts.Settings.Save.AutosaveInterval; interval > 0 {
			auto := saver.NewAutosaver(s.Store, s.Coordinator, interval, s.SaveOptions(saver.TriggerAutosave))
			go func() {
				defer close(autoDone)
				auto.Run(autoCtx)
			}()
		} else {
			close(autoDone)
		}

		scanner := bufio.NewScanner(in)
		for {
			fmt.Fprint(w, "> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				break
			}
			if err := s.runCommand(ctx, w, line); err != nil {
				fmt.Fprintf(w, "Error: %v\n", err)
			}
		}
		cancel()
		<-autoDone

		if s.Store.Snapshot().Dirty {
			res, err := s.Coordinator.Save(ctx, s.SaveOptions(saver.TriggerManual))
			if err != nil {
				return err
			}
			printSaveResult(w, res, s.Store.Snapshot())
		}
		return scanner.Err()
	})
}

func (s *Session) runCommand(ctx context.Context, w io.Writer, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "set", "canvas":
		key, raw, ok := strings.Cut(strings.TrimSpace(rest), " ")
		if !ok || key == "" {
			return fmt.Errorf("usage: %s <key> <json>", cmd)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("invalid JSON value: %w", err)
		}
		if cmd == "canvas" {
			s.Store.UpdatePartial(model.Content{model.CanvasKey: map[string]any{key: value}})
		} else {
			s.Store.UpdatePartial(model.Content{key: value})
		}
		return nil
	case "image":
		id, err := s.addImage(ctx, strings.TrimSpace(rest))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Added image %s\n", id)
		return nil
	case "save":
		res, err := s.Coordinator.Save(ctx, s.SaveOptions(saver.TriggerManual))
		if err != nil {
			return err
		}
		printSaveResult(w, res, s.Store.Snapshot())
		return nil
	case "status":
		printStatus(w, s.Store.Snapshot())
		return nil
	case "show":
		return printJSON(w, s.Store.Snapshot().Content)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// addImage stores the file at path as a local asset and appends a canvas
// image layer referencing it.
func (s *Session) addImage(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	st := s.Store.Snapshot()
	ids, err := s.Assets.Put(ctx, []assets.NewAsset{{Blob: data, ProjectID: st.ProjectID}})
	if err != nil {
		return "", err
	}

	var images []any
	if canvas, ok := model.AsMap(st.Content[model.CanvasKey]); ok {
		images, _ = canvas["images"].([]any)
	}
	images = append(images, map[string]any{"id": ids[0], "src": upload.RefPrefix + ids[0]})
	s.Store.UpdatePartial(model.Content{model.CanvasKey: map[string]any{"images": images}})
	return ids[0], nil
}

// AssetsPut stores files as local assets and prints their ids.
func AssetsPut(ctx context.Context, paths []string, projectID string, opts Options) error {
	items := make([]assets.NewAsset, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		items[i] = assets.NewAsset{Blob: data, ProjectID: projectID}
	}
	return withSession(ctx, opts, func(s *Session) error {
		ids, err := s.Assets.Put(ctx, items)
		if err != nil {
			return err
		}
		for i, id := range ids {
			fmt.Fprintf(opts.out(), "%s\t%s\n", id, paths[i])
		}
		if s.Assets.Mode() == assets.ModeMemory {
			fmt.Fprintln(opts.out(), "Warning: asset database unavailable; assets were not persisted")
		}
		return nil
	})
}

// AssetsGet writes the blob of id to path, or to the output when path is
// empty.
func AssetsGet(ctx context.Context, id, path string, opts Options) error {
	return withSession(ctx, opts, func(s *Session) error {
		blob, err := s.Assets.Get(ctx, id)
		if err != nil {
			return err
		}
		if blob == nil {
			return fmt.Errorf("asset %s not found", id)
		}
		if path == "" {
			_, err = opts.out().Write(blob)
			return err
		}
		return os.WriteFile(path, blob, 0o644)
	})
}

// AssetsList prints local assets, oldest first.
func AssetsList(ctx context.Context, filter storage.AssetFilter, opts Options) error {
	return withSession(ctx, opts, func(s *Session) error {
		recs, err := s.Assets.List(ctx, filter)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(opts.out(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSIZE\tTYPE\tPROJECT\tCREATED")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
				r.ID, r.Size, r.ContentType, r.ProjectID, r.CreatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	})
}

// AssetsDelete removes local assets.
func AssetsDelete(ctx context.Context, ids []string, opts Options) error {
	return withSession(ctx, opts, func(s *Session) error {
		for _, id := range ids {
			if err := s.Assets.Delete(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// CacheShow prints the cache row of a project and whether it is still
// valid against the server.
func CacheShow(ctx context.Context, projectID string, opts Options) error {
	return withSession(ctx, opts, func(s *Session) error {
		w := opts.out()
		entry := s.Cache.Get(ctx, projectID)
		if entry == nil {
			fmt.Fprintf(w, "No cache entry for %s\n", projectID)
			return nil
		}
		fmt.Fprintf(w, "Project:    %s\nVersion:    %d\nUpdated at: %s\nCached at:  %s\n",
			entry.ProjectID, entry.Version,
			entry.UpdatedAt.Format(time.RFC3339), entry.CachedAt.Format(time.RFC3339))

		meta, err := s.Remote.Meta(ctx, projectID)
		if err != nil {
			fmt.Fprintf(w, "Valid:      unknown (%v)\n", err)
			return nil
		}
		fmt.Fprintf(w, "Valid:      %t (server version %d)\n",
			s.Cache.Lookup(ctx, projectID, meta) != nil, meta.ContentVersion)
		return nil
	})
}

// CacheClear deletes the cache row of a project.
func CacheClear(ctx context.Context, projectID string, opts Options) error {
	return withSession(ctx, opts, func(s *Session) error {
		s.Cache.Delete(ctx, projectID)
		fmt.Fprintf(opts.out(), "Cleared cache for %s\n", projectID)
		return nil
	})
}

func readDocument(path string) (model.Content, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var doc model.Content
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc == nil {
		return nil, errors.New("document must be a JSON object")
	}
	return doc, nil
}

func printSaveResult(w io.Writer, res saver.SaveResult, st model.ContentState) {
	switch {
	case res.Skipped:
		fmt.Fprintln(w, "Nothing to save")
	case res.Clean:
		fmt.Fprintf(w, "Saved version %d\n", res.Version)
	default:
		fmt.Fprintf(w, "Saved version %d; newer edits are still unsaved\n", res.Version)
	}
	if st.LastWarning != "" {
		fmt.Fprintf(w, "Warning: %s\n", st.LastWarning)
	}
}

func printStatus(w io.Writer, st model.ContentState) {
	state := "saved"
	switch {
	case st.Saving:
		state = "saving"
	case st.Dirty:
		state = fmt.Sprintf("unsaved (%d edits)", st.DirtyCounter)
	}
	fmt.Fprintf(w, "%s: version %d, %s\n", st.ProjectID, st.Version, state)
	if st.LastSavedAt != nil {
		fmt.Fprintf(w, "Last saved: %s\n", st.LastSavedAt.Local().Format(time.DateTime))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Error: %s\n", st.LastError)
	}
	if st.LastWarning != "" {
		fmt.Fprintf(w, "Warning: %s\n", st.LastWarning)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
