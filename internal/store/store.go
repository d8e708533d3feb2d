// Package store persists every entity of the data model over
// modernc.org/sqlite, the teacher's own store dependency, generalized from
// the teacher's two-table schema to the full set spec.md §3 describes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,

		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			deleted_at TEXT,
			storage_used_bytes INTEGER NOT NULL DEFAULT 0,
			claimed_at TEXT,
			owner_subject TEXT
		);`,

		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			path TEXT NOT NULL,
			content TEXT NOT NULL,
			settings TEXT,
			next_append_seq INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_files_live_path
			ON files(workspace_id, path) WHERE deleted_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_files_workspace_prefix ON files(workspace_id, path);`,

		`CREATE TABLE IF NOT EXISTS folders (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			path TEXT NOT NULL,
			settings TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_folders_path ON folders(workspace_id, path);`,

		`CREATE TABLE IF NOT EXISTS appends (
			rowid_seq INTEGER PRIMARY KEY AUTOINCREMENT,
			public_id TEXT NOT NULL,
			file_id TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			author TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT,
			priority TEXT,
			labels TEXT,
			ref TEXT,
			content_preview TEXT,
			content_hash TEXT,
			expires_at TEXT,
			due_at TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_appends_public ON appends(file_id, public_id);`,
		`CREATE INDEX IF NOT EXISTS idx_appends_file_seq ON appends(file_id, rowid_seq);`,
		`CREATE INDEX IF NOT EXISTS idx_appends_ref ON appends(file_id, ref);`,

		`CREATE TABLE IF NOT EXISTS capability_keys (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			prefix TEXT NOT NULL,
			hash TEXT NOT NULL UNIQUE,
			permission TEXT NOT NULL,
			scope_type TEXT NOT NULL,
			scope_path TEXT,
			created_at TEXT NOT NULL,
			expires_at TEXT,
			revoked_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_capkeys_workspace_scope ON capability_keys(workspace_id, scope_type, scope_path);`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			prefix TEXT NOT NULL,
			hash TEXT NOT NULL UNIQUE,
			scopes TEXT NOT NULL,
			created_at TEXT NOT NULL,
			revoked_at TEXT
		);`,

		`CREATE TABLE IF NOT EXISTS idempotency_records (
			token TEXT PRIMARY KEY,
			capability_key_id TEXT NOT NULL,
			status INTEGER NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT,
			resource_id TEXT,
			resource_path TEXT,
			actor TEXT,
			actor_type TEXT,
			metadata TEXT,
			ip TEXT,
			user_agent TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_workspace ON audit_entries(workspace_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			url TEXT NOT NULL,
			event_filter TEXT NOT NULL,
			secret TEXT NOT NULL,
			folder_path TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_webhooks_workspace ON webhook_subscriptions(workspace_id);`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(
			content, file_id UNINDEXED, workspace_id UNINDEXED, path UNINDEXED
		);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS appends_fts USING fts5(
			preview, file_id UNINDEXED, workspace_id UNINDEXED, public_id UNINDEXED,
			type UNINDEXED, status UNINDEXED, author UNINDEXED
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w (%s)", err, stmt)
		}
	}
	return nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scanNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
