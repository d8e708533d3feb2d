package apikeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mdplane/internal/store"
)

func newFixture(t *testing.T) (*store.Store, *Manager) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.CreateWorkspace(context.Background(), "ws_1", "demo")
	require.NoError(t, err)
	return s, New(s)
}

func TestMintThenValidateRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, m := newFixture(t)

	res, err := m.Mint(ctx, MintInput{WorkspaceID: "ws_1", Scopes: []string{"search", "export"}, Live: false})
	require.NoError(t, err)
	require.Contains(t, res.Key, "sk_test_")

	rec, err := m.Validate(ctx, res.Key, "search")
	require.NoError(t, err)
	require.Equal(t, "ws_1", rec.WorkspaceID)
}

func TestValidateRejectsMissingScope(t *testing.T) {
	ctx := context.Background()
	_, m := newFixture(t)

	res, err := m.Mint(ctx, MintInput{WorkspaceID: "ws_1", Scopes: []string{"read"}, Live: false})
	require.NoError(t, err)

	_, err = m.Validate(ctx, res.Key, "write")
	require.Error(t, err)
}

func TestWildcardScopeSatisfiesAny(t *testing.T) {
	ctx := context.Background()
	_, m := newFixture(t)

	res, err := m.Mint(ctx, MintInput{WorkspaceID: "ws_1", Scopes: []string{"*"}, Live: true})
	require.NoError(t, err)
	require.Contains(t, res.Key, "sk_live_")

	_, err = m.Validate(ctx, res.Key, "write")
	require.NoError(t, err)
}

func TestRevokedKeyFailsValidation(t *testing.T) {
	ctx := context.Background()
	_, m := newFixture(t)

	res, err := m.Mint(ctx, MintInput{WorkspaceID: "ws_1", Scopes: []string{"read"}, Live: false})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, res.APIKey.ID))

	_, err = m.Validate(ctx, res.Key, "read")
	require.Error(t, err)
}

func TestMintRejectsUnknownScope(t *testing.T) {
	ctx := context.Background()
	_, m := newFixture(t)

	_, err := m.Mint(ctx, MintInput{WorkspaceID: "ws_1", Scopes: []string{"bogus"}, Live: false})
	require.Error(t, err)
}
