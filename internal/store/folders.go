package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) GetFolder(ctx context.Context, workspaceID, path string) (Folder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, path, settings, created_at, updated_at
		FROM folders WHERE workspace_id = ? AND path = ?
	`, workspaceID, path)
	return scanFolder(row)
}

func scanFolder(row *sql.Row) (Folder, error) {
	var f Folder
	var created, updated string
	var settings sql.NullString
	if err := row.Scan(&f.ID, &f.WorkspaceID, &f.Path, &settings, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Folder{}, ErrNotFound
		}
		return Folder{}, err
	}
	f.CreatedAt = parseTime(created)
	f.UpdatedAt = parseTime(updated)
	if settings.Valid {
		f.Settings = settings.String
	}
	return f, nil
}

// CreateFolder inserts an explicit folder record; a conflict with an
// already-explicit folder at the same path comes back as the insert's
// error from the unique index.
func (s *Store) CreateFolder(ctx context.Context, f Folder) (Folder, error) {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, workspace_id, path, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.WorkspaceID, f.Path, f.Settings, now, now)
	if err != nil {
		return Folder{}, err
	}
	return s.GetFolder(ctx, f.WorkspaceID, f.Path)
}

func (s *Store) UpdateFolderSettings(ctx context.Context, workspaceID, path, settings string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE folders SET settings = ?, updated_at = ? WHERE workspace_id = ? AND path = ?
	`, settings, nowString(), workspaceID, path)
	return err
}

func (s *Store) DeleteFolder(ctx context.Context, workspaceID, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE workspace_id = ? AND path = ?`, workspaceID, path)
	return err
}
