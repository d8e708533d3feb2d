// Package idempotency implements the token-keyed replay of spec §4.K as a
// thin layer over the store's insert-if-absent idempotency table.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"

	"mdplane/internal/store"
)

// Replay is the stored response for a token, ready to be re-emitted.
type Replay struct {
	Status int
	Body   []byte
}

// Lookup returns the stored response for token if one exists.
func Lookup(ctx context.Context, s *store.Store, token string) (*Replay, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	rec, err := s.GetIdempotencyRecord(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &Replay{Status: rec.Status, Body: []byte(rec.Body)}, true, nil
}

// Store records the response for a token. On a concurrent duplicate insert
// the write is a silent no-op and the caller should re-Lookup to obtain the
// winner's stored response before replying.
func Store(ctx context.Context, s *store.Store, token, capabilityKeyID string, status int, body any) error {
	if token == "" {
		return nil
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return s.InsertIdempotencyRecord(ctx, store.IdempotencyRecord{
		Token:           token,
		CapabilityKeyID: capabilityKeyID,
		Status:          status,
		Body:            string(encoded),
	})
}
