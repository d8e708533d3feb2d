package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mdplane/internal/store"
)

func newFixture(t *testing.T) (*store.Store, *Engine) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	_, err = s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)
	return s, New(s)
}

func TestSearchFilesFindsIndexedContent(t *testing.T) {
	ctx := context.Background()
	s, e := newFixture(t)

	f, err := s.InsertFile(ctx, store.File{ID: "f1", WorkspaceID: "ws_1", Path: "/docs/readme.md", Content: "the quick brown fox"})
	require.NoError(t, err)
	require.NoError(t, s.IndexFile(ctx, f.ID, "ws_1", f.Path, f.Content))

	res, err := e.SearchFiles(ctx, "ws_1", "brown", Scope{}, 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	require.False(t, res.Truncated)
}

func TestSearchFilesRejectsEmptyQuery(t *testing.T) {
	ctx := context.Background()
	_, e := newFixture(t)

	_, err := e.SearchFiles(ctx, "ws_1", "", Scope{}, 10)
	require.Error(t, err)
}

func TestSearchAppendsFiltersByType(t *testing.T) {
	ctx := context.Background()
	s, e := newFixture(t)

	f, err := s.InsertFile(ctx, store.File{ID: "f1", WorkspaceID: "ws_1", Path: "/todo.md", Content: "x"})
	require.NoError(t, err)
	a := store.Append{PublicID: "a1", FileID: f.ID, WorkspaceID: "ws_1", Author: "alice", Type: "task", ContentPreview: "fix the bug"}
	created, err := s.InsertAppend(ctx, a)
	require.NoError(t, err)
	require.NoError(t, s.IndexAppend(ctx, created))

	res, err := e.SearchAppends(ctx, "ws_1", "bug", "task", "", "", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)

	res2, err := e.SearchAppends(ctx, "ws_1", "bug", "claim", "", "", 10)
	require.NoError(t, err)
	require.Len(t, res2.Hits, 0)
}

func TestStatsAggregatesTaskCounts(t *testing.T) {
	ctx := context.Background()
	s, e := newFixture(t)

	f, err := s.InsertFile(ctx, store.File{ID: "f1", WorkspaceID: "ws_1", Path: "/todo.md", Content: "hello"})
	require.NoError(t, err)
	_, err = s.InsertAppend(ctx, store.Append{PublicID: "a1", FileID: f.ID, WorkspaceID: "ws_1", Author: "alice", Type: "task"})
	require.NoError(t, err)

	stats, err := e.Stats(ctx, "ws_1", Scope{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.FileCount)
	require.Equal(t, 1, stats.TaskStats.Pending)
}
