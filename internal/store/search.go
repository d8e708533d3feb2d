package store

import (
	"context"
	"database/sql"
	"fmt"
)

// IndexFile replaces the files_fts row for a file. Called by the file
// mutation engine after every content-changing write; file_id has no
// uniqueness constraint on the fts5 table so the stale row is deleted first.
func (s *Store) IndexFile(ctx context.Context, fileID, workspaceID, path, content string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files_fts WHERE file_id = ?`, fileID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files_fts (content, file_id, workspace_id, path) VALUES (?, ?, ?, ?)
	`, content, fileID, workspaceID, path)
	return err
}

// DeindexFile removes a file's row on permanent delete.
func (s *Store) DeindexFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files_fts WHERE file_id = ?`, fileID)
	return err
}

// IndexAppend records an append's preview text for full-text search.
func (s *Store) IndexAppend(ctx context.Context, a Append) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appends_fts (preview, file_id, workspace_id, public_id, type, status, author)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ContentPreview, a.FileID, a.WorkspaceID, a.PublicID, a.Type, a.Status, a.Author)
	return err
}

type FileSearchHit struct {
	FileID      string
	WorkspaceID string
	Path        string
	Rank        float64
	Snippet     string
}

// SearchFiles runs a BM25-ranked match against indexed file content, scoped
// by workspace and optionally a file path or folder prefix.
func (s *Store) SearchFiles(ctx context.Context, workspaceID, query, scopeBare, scopeTrailing string, limit int) ([]FileSearchHit, error) {
	q := `
		SELECT file_id, workspace_id, path, bm25(files_fts) AS rank,
			snippet(files_fts, 0, '[', ']', '...', 10)
		FROM files_fts
		WHERE files_fts MATCH ? AND workspace_id = ?`
	args := []any{query, workspaceID}
	if scopeBare != "" {
		q += ` AND (path = ? OR path LIKE ? ESCAPE '\')`
		args = append(args, scopeBare, escapeLike(scopeTrailing)+"%")
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []FileSearchHit
	for rows.Next() {
		var h FileSearchHit
		if err := rows.Scan(&h.FileID, &h.WorkspaceID, &h.Path, &h.Rank, &h.Snippet); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

type AppendSearchHit struct {
	FileID      string
	WorkspaceID string
	PublicID    string
	Type        string
	Status      string
	Author      string
	Rank        float64
	Snippet     string
}

func (s *Store) SearchAppends(ctx context.Context, workspaceID, query, typeFilter, statusFilter, authorFilter string, limit int) ([]AppendSearchHit, error) {
	q := `
		SELECT file_id, workspace_id, public_id, type, status, author, bm25(appends_fts) AS rank,
			snippet(appends_fts, 0, '[', ']', '...', 10)
		FROM appends_fts
		WHERE appends_fts MATCH ? AND workspace_id = ?`
	args := []any{query, workspaceID}
	if typeFilter != "" {
		q += ` AND type = ?`
		args = append(args, typeFilter)
	}
	if statusFilter != "" {
		q += ` AND status = ?`
		args = append(args, statusFilter)
	}
	if authorFilter != "" {
		q += ` AND author = ?`
		args = append(args, authorFilter)
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []AppendSearchHit
	for rows.Next() {
		var h AppendSearchHit
		if err := rows.Scan(&h.FileID, &h.WorkspaceID, &h.PublicID, &h.Type, &h.Status, &h.Author, &h.Rank, &h.Snippet); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// WorkspaceStats reduces a workspace's live files to summary counters.
type WorkspaceStats struct {
	FileCount   int
	FolderCount int
	TotalSize   int64
	UpdatedAt   sql.NullString
}

func (s *Store) WorkspaceStatsByScope(ctx context.Context, workspaceID, bare, trailing string) (WorkspaceStats, error) {
	var st WorkspaceStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(content)), 0), MAX(updated_at)
		FROM files
		WHERE workspace_id = ? AND deleted_at IS NULL AND (path = ? OR path LIKE ? ESCAPE '\')
	`, workspaceID, bare, escapeLike(trailing)+"%").Scan(&st.FileCount, &st.TotalSize, &st.UpdatedAt)
	if err != nil {
		return WorkspaceStats{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM folders WHERE workspace_id = ? AND (path = ? OR path LIKE ? ESCAPE '\')
	`, workspaceID, bare, escapeLike(trailing)+"%").Scan(&st.FolderCount)
	return st, err
}
