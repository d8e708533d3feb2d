package store

import (
	"context"
	"database/sql"
)

func (s *Store) InsertAuditEntry(ctx context.Context, e AuditEntry) error {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, workspace_id, action, resource_type, resource_id, resource_path,
			actor, actor_type, metadata, ip, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.WorkspaceID, e.Action, e.ResourceType, e.ResourceID, e.ResourcePath,
		e.Actor, e.ActorType, e.Metadata, e.IP, e.UserAgent, now)
	return err
}

// InsertAuditEntriesBatch inserts many entries in one transaction, for the
// async queue's periodic flush.
func (s *Store) InsertAuditEntriesBatch(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_entries (
			id, workspace_id, action, resource_type, resource_id, resource_path,
			actor, actor_type, metadata, ip, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := nowString()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.WorkspaceID, e.Action, e.ResourceType, e.ResourceID,
			e.ResourcePath, e.Actor, e.ActorType, e.Metadata, e.IP, e.UserAgent, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListAuditEntries(ctx context.Context, workspaceID string, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, action, resource_type, resource_id, resource_path,
			actor, actor_type, metadata, ip, user_agent, created_at
		FROM audit_entries WHERE workspace_id = ? ORDER BY created_at DESC LIMIT ?
	`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created string
		var resType, resID, resPath, actor, actorType, metadata, ip, ua sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.Action, &resType, &resID, &resPath,
			&actor, &actorType, &metadata, &ip, &ua, &created); err != nil {
			return nil, err
		}
		e.ResourceType, e.ResourceID, e.ResourcePath = resType.String, resID.String, resPath.String
		e.Actor, e.ActorType, e.Metadata = actor.String, actorType.String, metadata.String
		e.IP, e.UserAgent = ip.String, ua.String
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
