package store

import (
	"context"
	"database/sql"
	"errors"
)

// InsertIdempotencyRecord inserts a record if the token is unseen; on a
// concurrent duplicate the insert is a silent no-op and the caller should
// re-fetch via GetIdempotencyRecord to pick up the winner's stored response.
func (s *Store) InsertIdempotencyRecord(ctx context.Context, r IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (token, capability_key_id, status, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`, r.Token, r.CapabilityKeyID, r.Status, r.Body, nowString())
	return err
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, token string) (IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, capability_key_id, status, body, created_at
		FROM idempotency_records WHERE token = ?
	`, token)
	var r IdempotencyRecord
	var created string
	if err := row.Scan(&r.Token, &r.CapabilityKeyID, &r.Status, &r.Body, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IdempotencyRecord{}, ErrNotFound
		}
		return IdempotencyRecord{}, err
	}
	r.CreatedAt = parseTime(created)
	return r, nil
}

// PurgeIdempotencyRecordsOlderThan deletes records created before cutoff
// (RFC3339Nano), for optional GC. The core does not require expiry.
func (s *Store) PurgeIdempotencyRecordsOlderThan(ctx context.Context, cutoff string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
