// Package sqlitedb opens SQLite databases with the pragmas every canvasync
// store expects.
//
// Default pragmas:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 5000
//	synchronous  = NORMAL
//
// File databases also carry the pragmas in the DSN, in the form the driver
// understands, so every pooled connection gets them and not only the one the
// EXEC pass ran on. In-memory databases use a single connection.
//
// The caller blank-imports the driver it names:
//
//	import _ "github.com/mattn/go-sqlite3" // "sqlite3" (default)
//	import _ "modernc.org/sqlite"          // "sqlite"
package sqlitedb

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Memory is the DSN of a private in-memory database.
const Memory = ":memory:"

type config struct {
	driver      string
	busyTimeout int
	synchronous string
	schemas     []string
	ping        bool
}

func defaults() config {
	return config{
		driver:      "sqlite3",
		busyTimeout: 5000,
		synchronous: "NORMAL",
		ping:        true,
	}
}

// Option customises Open.
type Option func(*config)

// WithDriver sets the database/sql driver name. Default: "sqlite3".
func WithDriver(name string) Option { return func(c *config) { c.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSchema queues SQL to execute after the pragmas.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// WithoutPing skips the db.Ping() check.
func WithoutPing() Option { return func(c *config) { c.ping = false } }

// Open opens the database at path, creating parent directories as needed.
// In-memory databases are pinned to one connection, since every connection
// to ":memory:" sees its own empty database.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if path != Memory {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlitedb: mkdir: %w", err)
			}
		}
	}

	db, err := sql.Open(cfg.driver, dsn(cfg, path))
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open: %w", err)
	}
	if path == Memory {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitedb: %s: %w", p, err)
		}
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitedb: exec schema: %w", err)
		}
	}

	if cfg.ping {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitedb: ping: %w", err)
		}
	}
	return db, nil
}

// dsn returns the data source name for path with the per-connection pragmas
// encoded for cfg.driver. Unknown drivers get the bare path.
func dsn(cfg config, path string) string {
	if path == Memory {
		return path
	}
	q := url.Values{}
	switch cfg.driver {
	case "sqlite3":
		q.Set("_busy_timeout", fmt.Sprint(cfg.busyTimeout))
		q.Set("_foreign_keys", "on")
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", cfg.synchronous)
	case "sqlite":
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout))
		q.Add("_pragma", "foreign_keys(1)")
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", fmt.Sprintf("synchronous(%s)", cfg.synchronous))
	default:
		return path
	}
	return "file:" + uriPath.Replace(path) + "?" + q.Encode()
}

var uriPath = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
