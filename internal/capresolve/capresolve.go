// Package capresolve resolves a plaintext capability key into an
// authorization bundle (spec §4.F), folding unknown keys, tier mismatches,
// scope mismatches and expiry into the security-motivated 404 policy; only
// revocation is reported distinctly, as 410.
package capresolve

import (
	"context"
	"errors"
	"time"

	"mdplane/internal/apperr"
	"mdplane/internal/keys"
	"mdplane/internal/pathsec"
	"mdplane/internal/store"
)

// Bundle is the structured authorization result handed to callers once a
// key has been resolved and checked.
type Bundle struct {
	ID          string
	WorkspaceID string
	Permission  keys.Permission
	ScopeType   string
	ScopePath   string
	Prefix      string
}

type Options struct {
	RequiredPermission keys.Permission
	HasRequirement     bool
	PathHint           string
	HasPathHint        bool
}

type Resolver struct {
	store *store.Store
}

func New(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve validates the plaintext key shape, looks it up by hash, and
// enforces permission-tier and scope-containment checks. Every failure that
// would otherwise reveal key existence, tier, or scope collapses to 404
// INVALID_KEY, and an expired key to 404 NOT_FOUND; only a revoked key
// returns 410.
func (r *Resolver) Resolve(ctx context.Context, plaintext string, opts Options) (Bundle, error) {
	if !keys.IsValidScoped(plaintext) && !keys.IsValidRoot(plaintext) {
		return Bundle{}, apperr.New(apperr.InvalidKey, "key does not match a known shape")
	}

	hash := keys.Hash(plaintext)
	rec, err := r.store.GetCapabilityKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Bundle{}, apperr.New(apperr.InvalidKey, "key not found")
		}
		return Bundle{}, apperr.New(apperr.ServerError, "lookup failed")
	}

	if rec.RevokedAt != nil {
		return Bundle{}, apperr.New(apperr.KeyRevoked, "key has been revoked")
	}
	if rec.ExpiresAt != nil && !rec.ExpiresAt.IsZero() && time.Now().After(*rec.ExpiresAt) {
		return Bundle{}, apperr.New(apperr.NotFound, "key not found")
	}

	perm, ok := keys.ParsePermission(rec.Permission)
	if !ok {
		return Bundle{}, apperr.New(apperr.ServerError, "corrupt permission tier")
	}
	if opts.HasRequirement && !perm.Meets(opts.RequiredPermission) {
		return Bundle{}, apperr.New(apperr.InvalidKey, "key not found")
	}

	if opts.HasPathHint && rec.ScopeType == "folder" {
		if !pathsec.WithinFolder(opts.PathHint, pathsec.NormalizeFolder(rec.ScopePath)) {
			return Bundle{}, apperr.New(apperr.InvalidKey, "key not found")
		}
	}
	if opts.HasPathHint && rec.ScopeType == "file" && rec.ScopePath != opts.PathHint {
		return Bundle{}, apperr.New(apperr.InvalidKey, "key not found")
	}

	return Bundle{
		ID:          rec.ID,
		WorkspaceID: rec.WorkspaceID,
		Permission:  perm,
		ScopeType:   rec.ScopeType,
		ScopePath:   rec.ScopePath,
		Prefix:      rec.Prefix,
	}, nil
}
