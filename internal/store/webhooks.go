package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateWebhookSubscription(ctx context.Context, w WebhookSubscription) (WebhookSubscription, error) {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, workspace_id, url, event_filter, secret, folder_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.WorkspaceID, w.URL, w.EventFilter, w.Secret, w.FolderPath, now)
	if err != nil {
		return WebhookSubscription{}, err
	}
	return s.GetWebhookSubscription(ctx, w.ID)
}

func (s *Store) GetWebhookSubscription(ctx context.Context, id string) (WebhookSubscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, url, event_filter, secret, folder_path, created_at
		FROM webhook_subscriptions WHERE id = ?
	`, id)
	var w WebhookSubscription
	var created string
	var folder sql.NullString
	if err := row.Scan(&w.ID, &w.WorkspaceID, &w.URL, &w.EventFilter, &w.Secret, &folder, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WebhookSubscription{}, ErrNotFound
		}
		return WebhookSubscription{}, err
	}
	w.FolderPath = folder.String
	w.CreatedAt = parseTime(created)
	return w, nil
}

func (s *Store) ListWebhookSubscriptions(ctx context.Context, workspaceID string) ([]WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, url, event_filter, secret, folder_path, created_at
		FROM webhook_subscriptions WHERE workspace_id = ?
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WebhookSubscription
	for rows.Next() {
		var w WebhookSubscription
		var created string
		var folder sql.NullString
		if err := rows.Scan(&w.ID, &w.WorkspaceID, &w.URL, &w.EventFilter, &w.Secret, &folder, &created); err != nil {
			return nil, err
		}
		w.FolderPath = folder.String
		w.CreatedAt = parseTime(created)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWebhookSubscription(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = ?`, id)
	return err
}
