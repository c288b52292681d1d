package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/richinex/canvasync/assets"
	"github.com/richinex/canvasync/cache"
	"github.com/richinex/canvasync/config"
	"github.com/richinex/canvasync/content"
	"github.com/richinex/canvasync/limiter"
	"github.com/richinex/canvasync/remote"
	"github.com/richinex/canvasync/sanitize"
	"github.com/richinex/canvasync/saver"
	"github.com/richinex/canvasync/storage"
	"github.com/richinex/canvasync/upload"
)

// Session is one editor session: the content store and everything that
// loads, saves and caches it.
type Session struct {
	Settings    config.Settings
	Store       *content.Store
	Cache       *cache.Cache
	Assets      *assets.Store
	Limiter     *limiter.Limiter
	Remote      *remote.Client
	Coordinator *saver.Coordinator
	Loader      *saver.Loader

	log     *slog.Logger
	closers []func() error
}

// OpenSession wires a session from settings. Local databases that cannot be
// opened are replaced by in-memory stores for the lifetime of the session.
func OpenSession(ctx context.Context, settings config.Settings, log *slog.Logger) (*Session, error) {
	s := &Session{Settings: settings, log: log}

	var cacheBackend storage.CacheBackend = storage.NewMemoryCache()
	if db, err := storage.OpenSqlite(settings.Cache.Path); err != nil {
		log.Warn("local cache unavailable, using memory", "path", settings.Cache.Path, "error", err)
	} else {
		cacheBackend = db
		s.closers = append(s.closers, db.Close)
	}

	var blobs storage.BlobBackend
	if db, err := storage.OpenSqlite(settings.Assets.Path); err != nil {
		log.Warn("asset database unavailable", "path", settings.Assets.Path, "error", err)
	} else {
		blobs = db
		s.closers = append(s.closers, db.Close)
	}

	s.Store = content.NewStore()
	s.Cache = cache.New(cacheBackend, cache.WithTTL(settings.Cache.TTL), cache.WithLogger(log))
	s.Assets = assets.Open(ctx, blobs,
		assets.WithProbeTimeout(settings.Assets.ProbeTimeout),
		assets.WithLogger(log))
	s.Limiter = limiter.New(settings.Assets.UploadConcurrency)
	s.Remote = remote.New(settings.Remote.URL,
		remote.WithHTTPClient(&http.Client{Timeout: settings.Remote.Timeout}))

	uploader := upload.New(s.Assets, s.Remote, s.Limiter, upload.WithLogger(log))
	s.Coordinator = saver.NewCoordinator(s.Store, s.Remote, sanitize.New(),
		saver.WithPreparer(uploader),
		saver.WithCache(s.Cache),
		saver.WithLogger(log))
	s.Loader = saver.NewLoader(s.Store, s.Remote, s.Cache,
		saver.WithNotFound(notFound),
		saver.WithLoaderLogger(log))
	return s, nil
}

// Open loads projectID into the store.
func (s *Session) Open(ctx context.Context, projectID string) (saver.LoadResult, error) {
	return s.Loader.Open(ctx, projectID)
}

// notFound reports whether err is the server's answer for an unknown
// project.
func notFound(err error) bool {
	var se *remote.StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// SaveOptions returns the save options configured for this session.
func (s *Session) SaveOptions(trigger saver.Trigger) saver.SaveOptions {
	return saver.SaveOptions{CreateWorkflowHistory: s.Settings.Save.WorkflowHistory, Trigger: trigger}
}

// Close revokes live asset handles and closes local databases.
func (s *Session) Close() error {
	s.Assets.Close()
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close session: %w", errors.Join(errs...))
	}
	return nil
}
