package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) InsertAppend(ctx context.Context, a Append) (Append, error) {
	now := nowString()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO appends (
			public_id, file_id, workspace_id, author, type, status, priority, labels,
			ref, content_preview, content_hash, expires_at, due_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.PublicID, a.FileID, a.WorkspaceID, a.Author, a.Type, a.Status, a.Priority, a.Labels,
		a.Ref, a.ContentPreview, a.ContentHash, nullableTime(a.ExpiresAt), nullableTime(a.DueAt), now)
	if err != nil {
		return Append{}, err
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return Append{}, err
	}
	return s.GetAppendByRowID(ctx, rowID)
}

func (s *Store) GetAppendByRowID(ctx context.Context, rowID int64) (Append, error) {
	row := s.db.QueryRowContext(ctx, appendSelect+` WHERE rowid_seq = ?`, rowID)
	return scanAppend(row)
}

func (s *Store) GetAppendByPublicID(ctx context.Context, fileID, publicID string) (Append, error) {
	row := s.db.QueryRowContext(ctx, appendSelect+` WHERE file_id = ? AND public_id = ?`, fileID, publicID)
	return scanAppend(row)
}

const appendSelect = `
	SELECT rowid_seq, public_id, file_id, workspace_id, author, type, status, priority, labels,
		ref, content_preview, content_hash, expires_at, due_at, created_at
	FROM appends`

func scanAppend(row *sql.Row) (Append, error) {
	var a Append
	var created string
	var status, priority, labels, ref, preview, hash sql.NullString
	var expiresAt, dueAt sql.NullString
	if err := row.Scan(&a.RowID, &a.PublicID, &a.FileID, &a.WorkspaceID, &a.Author, &a.Type,
		&status, &priority, &labels, &ref, &preview, &hash, &expiresAt, &dueAt, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Append{}, ErrNotFound
		}
		return Append{}, err
	}
	a.Status, a.Priority, a.Labels, a.Ref = status.String, priority.String, labels.String, ref.String
	a.ContentPreview, a.ContentHash = preview.String, hash.String
	a.CreatedAt = parseTime(created)
	a.ExpiresAt = scanNullableTime(expiresAt)
	a.DueAt = scanNullableTime(dueAt)
	return a, nil
}

// ListAppends returns appends for a file with rowid > sinceRowID (0 means
// from the start), oldest first, capped at limit (0 means unbounded).
func (s *Store) ListAppends(ctx context.Context, fileID string, sinceRowID int64, limit int) ([]Append, error) {
	query := appendSelect + ` WHERE file_id = ? AND rowid_seq > ? ORDER BY rowid_seq ASC`
	args := []any{fileID, sinceRowID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppendRows(rows)
}

// ListAppendsByFile returns the full ordered append log for a file, oldest
// first, for projector consumption.
func (s *Store) ListAppendsByFile(ctx context.Context, fileID string) ([]Append, error) {
	rows, err := s.db.QueryContext(ctx, appendSelect+` WHERE file_id = ? ORDER BY rowid_seq ASC`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppendRows(rows)
}

// ListAppendsByWorkspace returns the full append log across every file of a
// workspace, oldest first, for workspace-wide orchestration views.
func (s *Store) ListAppendsByWorkspace(ctx context.Context, workspaceID string) ([]Append, error) {
	rows, err := s.db.QueryContext(ctx, appendSelect+` WHERE workspace_id = ? ORDER BY rowid_seq ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppendRows(rows)
}

func scanAppendRows(rows *sql.Rows) ([]Append, error) {
	var out []Append
	for rows.Next() {
		var a Append
		var created string
		var status, priority, labels, ref, preview, hash sql.NullString
		var expiresAt, dueAt sql.NullString
		if err := rows.Scan(&a.RowID, &a.PublicID, &a.FileID, &a.WorkspaceID, &a.Author, &a.Type,
			&status, &priority, &labels, &ref, &preview, &hash, &expiresAt, &dueAt, &created); err != nil {
			return nil, err
		}
		a.Status, a.Priority, a.Labels, a.Ref = status.String, priority.String, labels.String, ref.String
		a.ContentPreview, a.ContentHash = preview.String, hash.String
		a.CreatedAt = parseTime(created)
		a.ExpiresAt = scanNullableTime(expiresAt)
		a.DueAt = scanNullableTime(dueAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CountAppends(ctx context.Context, fileID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM appends WHERE file_id = ?`, fileID).Scan(&n)
	return n, err
}

// UpdateAppendExpiry is used by claim renew to bump a claim's expiresAt.
func (s *Store) UpdateAppendExpiry(ctx context.Context, rowID int64, expiresAt string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE appends SET expires_at = ? WHERE rowid_seq = ?`, expiresAt, rowID)
	return err
}

// UpdateAppendStatus sets the denormalized convenience status column on a
// claim's own row. The projector never trusts this column; it is a fast
// lookup aid only.
func (s *Store) UpdateAppendStatus(ctx context.Context, rowID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE appends SET status = ? WHERE rowid_seq = ?`, status, rowID)
	return err
}
