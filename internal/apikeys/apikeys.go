// Package apikeys implements scoped API key minting and validation for the
// /api/v1 admin surface (spec §3 "Scoped API key", §6): sk_live_/sk_test_
// keys carrying a comma-separated scope set drawn from
// {read, append, write, export, search, *}.
package apikeys

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"mdplane/internal/apperr"
	"mdplane/internal/keys"
	"mdplane/internal/store"
)

var validScopes = map[string]bool{
	"read": true, "append": true, "write": true, "export": true, "search": true, "*": true,
}

type Manager struct {
	store *store.Store
}

func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

type MintInput struct {
	WorkspaceID string
	Scopes      []string
	Live        bool
}

type MintResult struct {
	Key    string
	APIKey store.APIKey
}

// Mint validates the requested scope set and issues a fresh sk_live_/sk_test_
// key, storing only its hash.
func (m *Manager) Mint(ctx context.Context, in MintInput) (MintResult, error) {
	if len(in.Scopes) == 0 {
		return MintResult{}, apperr.New(apperr.InvalidRequest, "at least one scope is required")
	}
	for _, sc := range in.Scopes {
		if !validScopes[sc] {
			return MintResult{}, apperr.New(apperr.InvalidRequest, "unknown scope: "+sc)
		}
	}

	plaintext, err := keys.GenerateAPIKey(in.Live)
	if err != nil {
		return MintResult{}, apperr.New(apperr.ServerError, "key generation failed")
	}
	prefix := "sk_test_"
	if in.Live {
		prefix = "sk_live_"
	}

	rec := store.APIKey{
		ID:          uuid.NewString(),
		WorkspaceID: in.WorkspaceID,
		Prefix:      prefix,
		Hash:        keys.Hash(plaintext),
		Scopes:      strings.Join(in.Scopes, ","),
	}
	created, err := m.store.InsertAPIKey(ctx, rec)
	if err != nil {
		return MintResult{}, apperr.New(apperr.ServerError, "key storage failed")
	}
	return MintResult{Key: plaintext, APIKey: created}, nil
}

// Validate resolves a bearer token to its stored record, requiring the
// given scope to be present (or "*"). Unknown or revoked keys collapse to
// the same 401, following the capability resolver's hide-on-failure policy.
func (m *Manager) Validate(ctx context.Context, bearer, requiredScope string) (store.APIKey, error) {
	if !keys.IsValidAPIKey(bearer) {
		return store.APIKey{}, apperr.New(apperr.Unauthorized, "malformed api key")
	}
	rec, err := m.store.GetAPIKeyByHash(ctx, keys.Hash(bearer))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.APIKey{}, apperr.New(apperr.Unauthorized, "unknown api key")
		}
		return store.APIKey{}, apperr.New(apperr.ServerError, "key lookup failed")
	}
	if rec.RevokedAt != nil {
		return store.APIKey{}, apperr.New(apperr.Unauthorized, "api key revoked")
	}
	if !hasScope(rec.Scopes, requiredScope) {
		return store.APIKey{}, apperr.New(apperr.Unauthorized, "api key lacks required scope")
	}
	return rec, nil
}

func hasScope(csv, required string) bool {
	for _, sc := range strings.Split(csv, ",") {
		if sc == "*" || sc == required {
			return true
		}
	}
	return false
}

// Revoke marks a key unusable; it remains in the store for audit purposes.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if err := m.store.RevokeAPIKey(ctx, id); err != nil {
		return apperr.New(apperr.ServerError, "revoke failed")
	}
	return nil
}
