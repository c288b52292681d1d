package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/canvasync/internal/sqlitedb"
	"github.com/richinex/canvasync/model"
)

// SqliteStorage implements CacheBackend and BlobBackend using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	return OpenSqlite(sqlitedb.Memory)
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS project_cache (
			project_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			cached_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			blob BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			size INTEGER NOT NULL,
			content_type TEXT NOT NULL,
			project_id TEXT,
			node_id TEXT,
			checksum TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_assets_created ON assets(created_at);
		CREATE INDEX IF NOT EXISTS idx_assets_project ON assets(project_id);
		CREATE INDEX IF NOT EXISTS idx_assets_node ON assets(node_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)",
		fmt.Sprint(SchemaVersion))
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// SchemaVersion returns the version tag stored in the database.
func (s *SqliteStorage) SchemaVersion(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&v)
	if err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// CacheBackend implementation

// GetEntry returns the cache row for projectID.
// Returns nil, nil if not found.
func (s *SqliteStorage) GetEntry(ctx context.Context, projectID string) (*model.CacheEntry, error) {
	var (
		raw                 string
		updatedAt, cachedAt string
		entry               = model.CacheEntry{ProjectID: projectID}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content, version, updated_at, cached_at
		FROM project_cache WHERE project_id = ?`,
		projectID).Scan(&raw, &entry.Version, &updatedAt, &cachedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &entry.Content); err != nil {
		return nil, fmt.Errorf("failed to decode cached content: %w", err)
	}
	// Unparseable timestamps stay zero, which no validity check accepts.
	entry.UpdatedAt = parseTime(updatedAt)
	entry.CachedAt = parseTime(cachedAt)

	return &entry, nil
}

// PutEntry inserts or replaces the cache row for entry.ProjectID.
func (s *SqliteStorage) PutEntry(ctx context.Context, entry model.CacheEntry) error {
	raw, err := json.Marshal(entry.Content)
	if err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO project_cache
		(project_id, content, version, updated_at, cached_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ProjectID,
		string(raw),
		entry.Version,
		formatTime(entry.UpdatedAt),
		formatTime(entry.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// DeleteEntry removes the cache row for projectID.
func (s *SqliteStorage) DeleteEntry(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM project_cache WHERE project_id = ?", projectID)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// BlobBackend implementation

// Ping verifies the database answers queries.
func (s *SqliteStorage) Ping(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM meta").Scan(&n); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// PutAssets stores all records in one transaction.
func (s *SqliteStorage) PutAssets(ctx context.Context, records []model.AssetRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assets
		(id, blob, created_at, size, content_type, project_id, node_id, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx,
			r.ID,
			r.Blob,
			r.CreatedAt.UnixNano(),
			r.Size,
			r.ContentType,
			nullable(r.ProjectID),
			nullable(r.NodeID),
			r.Checksum,
		)
		if err != nil {
			return fmt.Errorf("failed to insert asset %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetAsset returns the record for id, verifying its checksum.
// Returns nil, nil if not found.
func (s *SqliteStorage) GetAsset(ctx context.Context, id string) (*model.AssetRecord, error) {
	var r model.AssetRecord
	var createdAt int64
	var projectID, nodeID sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, blob, created_at, size, content_type, project_id, node_id, checksum
		FROM assets WHERE id = ?`,
		id).Scan(&r.ID, &r.Blob, &createdAt, &r.Size, &r.ContentType, &projectID, &nodeID, &r.Checksum)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.ProjectID = projectID.String
	r.NodeID = nodeID.String

	if Checksum(r.Blob) != r.Checksum {
		return nil, fmt.Errorf("asset %s: %w", id, ErrChecksum)
	}
	return &r, nil
}

// DeleteAsset removes id.
func (s *SqliteStorage) DeleteAsset(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM assets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

// ListAssets returns metadata of matching assets, oldest first.
func (s *SqliteStorage) ListAssets(ctx context.Context, filter AssetFilter) ([]model.AssetRecord, error) {
	var where []string
	var args []interface{}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.CreatedBefore.UnixNano())
	}

	query := `SELECT id, created_at, size, content_type, project_id, node_id, checksum FROM assets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	records := []model.AssetRecord{} // Start with empty slice, not nil
	for rows.Next() {
		var r model.AssetRecord
		var createdAt int64
		var projectID, nodeID sql.NullString
		if err := rows.Scan(&r.ID, &createdAt, &r.Size, &r.ContentType, &projectID, &nodeID, &r.Checksum); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.ProjectID = projectID.String
		r.NodeID = nodeID.String
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return records, nil
}

// nullable converts empty strings to NULL for optional columns.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Verify SqliteStorage implements all interfaces
var _ CacheBackend = (*SqliteStorage)(nil)
var _ BlobBackend = (*SqliteStorage)(nil)
