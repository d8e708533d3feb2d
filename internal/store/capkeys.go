package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) InsertCapabilityKey(ctx context.Context, k CapabilityKey) (CapabilityKey, error) {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capability_keys (
			id, workspace_id, prefix, hash, permission, scope_type, scope_path, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.WorkspaceID, k.Prefix, k.Hash, k.Permission, k.ScopeType, k.ScopePath, now, nullableTime(k.ExpiresAt))
	if err != nil {
		return CapabilityKey{}, err
	}
	return s.GetCapabilityKeyByHash(ctx, k.Hash)
}

func (s *Store) GetCapabilityKeyByHash(ctx context.Context, hash string) (CapabilityKey, error) {
	row := s.db.QueryRowContext(ctx, capKeySelect+` WHERE hash = ?`, hash)
	return scanCapKey(row)
}

func (s *Store) GetCapabilityKeyByID(ctx context.Context, id string) (CapabilityKey, error) {
	row := s.db.QueryRowContext(ctx, capKeySelect+` WHERE id = ?`, id)
	return scanCapKey(row)
}

const capKeySelect = `
	SELECT id, workspace_id, prefix, hash, permission, scope_type, scope_path, created_at, expires_at, revoked_at
	FROM capability_keys`

func scanCapKey(row *sql.Row) (CapabilityKey, error) {
	var k CapabilityKey
	var created string
	var scopePath sql.NullString
	var expiresAt, revokedAt sql.NullString
	if err := row.Scan(&k.ID, &k.WorkspaceID, &k.Prefix, &k.Hash, &k.Permission, &k.ScopeType,
		&scopePath, &created, &expiresAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CapabilityKey{}, ErrNotFound
		}
		return CapabilityKey{}, err
	}
	k.ScopePath = scopePath.String
	k.CreatedAt = parseTime(created)
	k.ExpiresAt = scanNullableTime(expiresAt)
	k.RevokedAt = scanNullableTime(revokedAt)
	return k, nil
}

func (s *Store) RevokeCapabilityKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE capability_keys SET revoked_at = ? WHERE id = ?`, nowString(), id)
	return err
}

// RevokeCapabilityKeysByScope revokes every key scoped to the given
// scope type and path within a workspace, for bulk rotation.
func (s *Store) RevokeCapabilityKeysByScope(ctx context.Context, workspaceID, scopeType, scopePath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE capability_keys SET revoked_at = ?
		WHERE workspace_id = ? AND scope_type = ? AND scope_path = ? AND revoked_at IS NULL
	`, nowString(), workspaceID, scopeType, scopePath)
	return err
}

func (s *Store) ListCapabilityKeysByScope(ctx context.Context, workspaceID, scopeType, scopePath string) ([]CapabilityKey, error) {
	rows, err := s.db.QueryContext(ctx, capKeySelect+`
		WHERE workspace_id = ? AND scope_type = ? AND scope_path = ?
	`, workspaceID, scopeType, scopePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CapabilityKey
	for rows.Next() {
		var k CapabilityKey
		var created string
		var scopePathCol sql.NullString
		var expiresAt, revokedAt sql.NullString
		if err := rows.Scan(&k.ID, &k.WorkspaceID, &k.Prefix, &k.Hash, &k.Permission, &k.ScopeType,
			&scopePathCol, &created, &expiresAt, &revokedAt); err != nil {
			return nil, err
		}
		k.ScopePath = scopePathCol.String
		k.CreatedAt = parseTime(created)
		k.ExpiresAt = scanNullableTime(expiresAt)
		k.RevokedAt = scanNullableTime(revokedAt)
		out = append(out, k)
	}
	return out, rows.Err()
}
