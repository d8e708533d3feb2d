package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWorkspaceLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w, err := s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.StorageUsedBytes)
	assert.Nil(t, w.ClaimedAt)

	require.NoError(t, s.AdjustStorageUsage(ctx, "ws_1", 100))
	w, err = s.GetWorkspace(ctx, "ws_1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.StorageUsedBytes)

	require.NoError(t, s.AdjustStorageUsage(ctx, "ws_1", -1000))
	w, err = s.GetWorkspace(ctx, "ws_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.StorageUsedBytes, "clamped at zero")

	claimed, err := s.ClaimWorkspace(ctx, "ws_1", "owner-subj")
	require.NoError(t, err)
	assert.NotNil(t, claimed.ClaimedAt)
	assert.Equal(t, "owner-subj", claimed.OwnerSubject)
}

func TestFileUniquePathAmongLive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)

	_, err = s.InsertFile(ctx, File{ID: "f1", WorkspaceID: "ws_1", Path: "/doc.md", Content: "hello"})
	require.NoError(t, err)

	_, err = s.InsertFile(ctx, File{ID: "f2", WorkspaceID: "ws_1", Path: "/doc.md", Content: "dup"})
	assert.Error(t, err, "duplicate live path must violate the unique index")

	require.NoError(t, s.SoftDeleteFile(ctx, "f1"))
	_, err = s.InsertFile(ctx, File{ID: "f3", WorkspaceID: "ws_1", Path: "/doc.md", Content: "again"})
	assert.NoError(t, err, "path frees up once the prior file is soft-deleted")
}

func TestListFilesByPrefixScopeContainment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)

	paths := []string{"/docs/a.md", "/docs/sub/b.md", "/docs-backup/c.md", "/docs"}
	for i, p := range paths {
		_, err := s.InsertFile(ctx, File{ID: idFor(i), WorkspaceID: "ws_1", Path: p, Content: "x"})
		require.NoError(t, err)
	}

	recursive, err := s.ListFilesByPrefix(ctx, "ws_1", "/docs", "/docs/", true, 0)
	require.NoError(t, err)
	var gotPaths []string
	for _, f := range recursive {
		gotPaths = append(gotPaths, f.Path)
	}
	assert.ElementsMatch(t, []string{"/docs/a.md", "/docs/sub/b.md", "/docs"}, gotPaths)

	flat, err := s.ListFilesByPrefix(ctx, "ws_1", "/docs", "/docs/", false, 0)
	require.NoError(t, err)
	var flatPaths []string
	for _, f := range flat {
		flatPaths = append(flatPaths, f.Path)
	}
	assert.ElementsMatch(t, []string{"/docs/a.md", "/docs"}, flatPaths)
}

func idFor(i int) string {
	return "f" + string(rune('a'+i))
}

func TestAppendDenseSequencing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)
	_, err = s.InsertFile(ctx, File{ID: "f1", WorkspaceID: "ws_1", Path: "/doc.md", Content: "x"})
	require.NoError(t, err)

	seq1, err := s.NextAppendSeq(ctx, "f1")
	require.NoError(t, err)
	seq2, err := s.NextAppendSeq(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, seq1+1, seq2)
}

func TestIdempotencyInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := IdempotencyRecord{Token: "tok1", CapabilityKeyID: "k1", Status: 200, Body: `{"ok":true}`}
	require.NoError(t, s.InsertIdempotencyRecord(ctx, rec))

	dup := IdempotencyRecord{Token: "tok1", CapabilityKeyID: "k1", Status: 500, Body: `{"ok":false}`}
	require.NoError(t, s.InsertIdempotencyRecord(ctx, dup))

	got, err := s.GetIdempotencyRecord(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, 200, got.Status, "first insert wins; losers are no-ops")
}

func TestSearchFilesRanksByBM25(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)

	require.NoError(t, s.IndexFile(ctx, "f1", "ws_1", "/a.md", "the quick brown fox"))
	require.NoError(t, s.IndexFile(ctx, "f2", "ws_1", "/b.md", "fox fox fox everywhere"))

	hits, err := s.SearchFiles(ctx, "ws_1", "fox", "", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "f2", hits[0].FileID, "denser match ranks first")
}
