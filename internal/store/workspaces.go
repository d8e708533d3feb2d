package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateWorkspace(ctx context.Context, id, name string) (Workspace, error) {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, created_at, storage_used_bytes)
		VALUES (?, ?, ?, 0)
	`, id, name, now)
	if err != nil {
		return Workspace{}, err
	}
	return s.GetWorkspace(ctx, id)
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, deleted_at, storage_used_bytes, claimed_at, owner_subject
		FROM workspaces WHERE id = ?
	`, id)
	return scanWorkspace(row)
}

func scanWorkspace(row *sql.Row) (Workspace, error) {
	var w Workspace
	var created string
	var deletedAt, claimedAt, owner sql.NullString
	if err := row.Scan(&w.ID, &w.Name, &created, &deletedAt, &w.StorageUsedBytes, &claimedAt, &owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workspace{}, ErrNotFound
		}
		return Workspace{}, err
	}
	w.CreatedAt = parseTime(created)
	w.DeletedAt = scanNullableTime(deletedAt)
	w.ClaimedAt = scanNullableTime(claimedAt)
	if owner.Valid {
		w.OwnerSubject = owner.String
	}
	return w, nil
}

// ClaimWorkspace binds the workspace to an owner subject; no-op (returns
// current state) if the workspace is already claimed, by any subject.
func (s *Store) ClaimWorkspace(ctx context.Context, id, ownerSubject string) (Workspace, error) {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET claimed_at = ?, owner_subject = ?
		WHERE id = ? AND claimed_at IS NULL
	`, now, ownerSubject, id)
	if err != nil {
		return Workspace{}, err
	}
	return s.GetWorkspace(ctx, id)
}

// AdjustStorageUsage atomically increments storage_used_bytes by delta,
// clamped so it never goes negative.
func (s *Store) AdjustStorageUsage(ctx context.Context, workspaceID string, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workspaces
		SET storage_used_bytes = MAX(0, storage_used_bytes + ?)
		WHERE id = ?
	`, delta, workspaceID)
	return err
}

func (s *Store) SoftDeleteWorkspace(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workspaces SET deleted_at = ? WHERE id = ?`, nowString(), id)
	return err
}
