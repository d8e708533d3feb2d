package idempotency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mdplane/internal/store"
)

func TestStoreThenLookupReplays(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, Store(ctx, s, "tok-1", "key-1", 200, map[string]any{"ok": true}))

	replay, found, err := Lookup(ctx, s, "tok-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 200, replay.Status)
	require.JSONEq(t, `{"ok":true}`, string(replay.Body))
}

func TestLookupMissingTokenIsNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, found, err := Lookup(ctx, s, "never-seen")
	require.NoError(t, err)
	require.False(t, found)
}

func TestConcurrentStoreConvergesOnFirstWriter(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, Store(ctx, s, "tok-1", "key-1", 201, map[string]any{"winner": true}))
	require.NoError(t, Store(ctx, s, "tok-1", "key-1", 500, map[string]any{"winner": false}))

	replay, found, err := Lookup(ctx, s, "tok-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 201, replay.Status)
}
