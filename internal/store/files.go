package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// GetFile returns the live (non-deleted) file at path, or ErrNotFound.
func (s *Store) GetFile(ctx context.Context, workspaceID, path string) (File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, path, content, settings, next_append_seq, created_at, updated_at, deleted_at
		FROM files
		WHERE workspace_id = ? AND path = ? AND deleted_at IS NULL
	`, workspaceID, path)
	return scanFile(row)
}

// GetDeletedFile returns the most recently soft-deleted file at path, for
// the /w/{key}/recover surface, or ErrNotFound if none is deleted there.
func (s *Store) GetDeletedFile(ctx context.Context, workspaceID, path string) (File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, path, content, settings, next_append_seq, created_at, updated_at, deleted_at
		FROM files
		WHERE workspace_id = ? AND path = ? AND deleted_at IS NOT NULL
		ORDER BY deleted_at DESC LIMIT 1
	`, workspaceID, path)
	return scanFile(row)
}

// GetFileByID returns a file by id regardless of deletion state.
func (s *Store) GetFileByID(ctx context.Context, id string) (File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, path, content, settings, next_append_seq, created_at, updated_at, deleted_at
		FROM files WHERE id = ?
	`, id)
	return scanFile(row)
}

func scanFile(row *sql.Row) (File, error) {
	var f File
	var created, updated string
	var settings, deletedAt sql.NullString
	if err := row.Scan(&f.ID, &f.WorkspaceID, &f.Path, &f.Content, &settings, &f.NextAppendSeq, &created, &updated, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return File{}, ErrNotFound
		}
		return File{}, err
	}
	f.CreatedAt = parseTime(created)
	f.UpdatedAt = parseTime(updated)
	f.DeletedAt = scanNullableTime(deletedAt)
	if settings.Valid {
		f.Settings = settings.String
	}
	return f, nil
}

// InsertFile creates a new live file row. On a unique-index collision it
// returns the driver's constraint error unchanged; the caller recovers the race.
func (s *Store) InsertFile(ctx context.Context, f File) (File, error) {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, workspace_id, path, content, settings, next_append_seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, f.ID, f.WorkspaceID, f.Path, f.Content, f.Settings, now, now)
	if err != nil {
		return File{}, err
	}
	return s.GetFile(ctx, f.WorkspaceID, f.Path)
}

// UpdateFileContent overwrites content on an existing live file.
func (s *Store) UpdateFileContent(ctx context.Context, id, content string) (File, error) {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		UPDATE files SET content = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, content, now, id)
	if err != nil {
		return File{}, err
	}
	return s.GetFileByID(ctx, id)
}

func (s *Store) UpdateFileSettings(ctx context.Context, id, settings string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE files SET settings = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, settings, nowString(), id)
	return err
}

// MoveFile changes a live file's path. Caller must have already checked the
// destination is free.
func (s *Store) MoveFile(ctx context.Context, id, newPath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE files SET path = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, newPath, nowString(), id)
	return err
}

func (s *Store) SoftDeleteFile(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE files SET deleted_at = ? WHERE id = ?`, nowString(), id)
	return err
}

func (s *Store) HardDeleteFile(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	return err
}

// RestoreFile clears deleted_at. It does not check the recovery window;
// fileengine.Recover does that before calling it.
func (s *Store) RestoreFile(ctx context.Context, id string) (File, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE files SET deleted_at = NULL, updated_at = ? WHERE id = ?`, nowString(), id)
	if err != nil {
		return File{}, err
	}
	return s.GetFileByID(ctx, id)
}

// NextAppendSeq atomically bumps and returns the next dense append id for a file.
func (s *Store) NextAppendSeq(ctx context.Context, fileID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT next_append_seq FROM files WHERE id = ?`, fileID).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	seq++
	if _, err := tx.ExecContext(ctx, `UPDATE files SET next_append_seq = ? WHERE id = ?`, seq, fileID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// ListFilesByPrefix lists live files whose path is within folderScope
// (equal to the bare scope, or prefixed by the scope's trailing-slash form).
func (s *Store) ListFilesByPrefix(ctx context.Context, workspaceID, bare, trailing string, recursive bool, limit int) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, path, content, settings, next_append_seq, created_at, updated_at, deleted_at
		FROM files
		WHERE workspace_id = ? AND deleted_at IS NULL AND (path = ? OR path LIKE ? ESCAPE '\')
		ORDER BY path
	`, workspaceID, bare, escapeLike(trailing)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		var created, updated string
		var settings, deletedAt sql.NullString
		if err := rows.Scan(&f.ID, &f.WorkspaceID, &f.Path, &f.Content, &settings, &f.NextAppendSeq, &created, &updated, &deletedAt); err != nil {
			return nil, err
		}
		f.CreatedAt = parseTime(created)
		f.UpdatedAt = parseTime(updated)
		f.DeletedAt = scanNullableTime(deletedAt)
		if settings.Valid {
			f.Settings = settings.String
		}
		if !recursive && f.Path != bare {
			rest := strings.TrimPrefix(f.Path, trailing)
			if strings.Contains(rest, "/") {
				continue
			}
		}
		out = append(out, f)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *Store) CountFilesByPrefix(ctx context.Context, workspaceID, bare, trailing string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM files
		WHERE workspace_id = ? AND deleted_at IS NULL AND (path = ? OR path LIKE ? ESCAPE '\')
	`, workspaceID, bare, escapeLike(trailing)+"%").Scan(&n)
	return n, err
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
