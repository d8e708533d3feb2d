package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) InsertAPIKey(ctx context.Context, k APIKey) (APIKey, error) {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, workspace_id, prefix, hash, scopes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, k.ID, k.WorkspaceID, k.Prefix, k.Hash, k.Scopes, now)
	if err != nil {
		return APIKey{}, err
	}
	return s.GetAPIKeyByHash(ctx, k.Hash)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, prefix, hash, scopes, created_at, revoked_at
		FROM api_keys WHERE hash = ?
	`, hash)
	var k APIKey
	var created string
	var revokedAt sql.NullString
	if err := row.Scan(&k.ID, &k.WorkspaceID, &k.Prefix, &k.Hash, &k.Scopes, &created, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return APIKey{}, ErrNotFound
		}
		return APIKey{}, err
	}
	k.CreatedAt = parseTime(created)
	k.RevokedAt = scanNullableTime(revokedAt)
	return k, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at = ? WHERE id = ?`, nowString(), id)
	return err
}
