package fileengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mdplane/internal/apperr"
	"mdplane/internal/audit"
	"mdplane/internal/store"
	"mdplane/internal/webhook"
)

func newFixture(t *testing.T) (*store.Store, *Engine) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.CreateWorkspace(context.Background(), "ws_1", "demo")
	require.NoError(t, err)

	q := audit.New(s, zap.NewNop(), true)
	d := webhook.New(s, zap.NewNop(), true)
	e := New(s, q, d, 1<<20, 1<<20)
	return s, e
}

func TestPutInsertsThenUpdatesWithETagCheck(t *testing.T) {
	ctx := context.Background()
	_, e := newFixture(t)

	res, err := e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/doc.md", Content: "hello"})
	require.NoError(t, err)
	require.True(t, res.Created)
	firstETag := res.ETag

	_, err = e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/doc.md", Content: "world", IfMatch: "\"wrong\""})
	require.Error(t, err)

	res2, err := e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/doc.md", Content: "world", IfMatch: firstETag})
	require.NoError(t, err)
	require.False(t, res2.Created)
	require.NotEqual(t, firstETag, res2.ETag)
}

func TestPutRejectsOversizedContent(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)
	q := audit.New(s, zap.NewNop(), true)
	d := webhook.New(s, zap.NewNop(), true)
	e := New(s, q, d, 4, 1<<20)

	_, err = e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/big.md", Content: "too long"})
	require.Error(t, err)
}

func TestPutEnforcesQuota(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)
	q := audit.New(s, zap.NewNop(), true)
	d := webhook.New(s, zap.NewNop(), true)
	e := New(s, q, d, 1<<20, 5)

	_, err = e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/a.md", Content: "123456"})
	require.Error(t, err)
}

func TestDeleteSoftThenRecover(t *testing.T) {
	ctx := context.Background()
	s, e := newFixture(t)

	putRes, err := e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/doc.md", Content: "hello"})
	require.NoError(t, err)

	delRes, err := e.Delete(ctx, DeleteInput{WorkspaceID: "ws_1", Path: "/doc.md"})
	require.NoError(t, err)
	require.True(t, delRes.Recoverable)
	require.NotEmpty(t, delRes.ExpiresAt)

	ws, err := s.GetWorkspace(ctx, "ws_1")
	require.NoError(t, err)
	require.Equal(t, int64(0), ws.StorageUsedBytes)

	restored, err := e.Recover(ctx, putRes.File.ID)
	require.NoError(t, err)
	require.Nil(t, restored.DeletedAt)
}

func TestMoveRejectsOccupiedDestination(t *testing.T) {
	ctx := context.Background()
	_, e := newFixture(t)

	r1, err := e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/a.md", Content: "a"})
	require.NoError(t, err)
	_, err = e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/b.md", Content: "b"})
	require.NoError(t, err)

	_, err = e.Move(ctx, "ws_1", r1.File.ID, "/b.md")
	require.Error(t, err)
}

func TestRenamePreservesParentDirectory(t *testing.T) {
	ctx := context.Background()
	_, e := newFixture(t)

	r1, err := e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/docs/a.md", Content: "a"})
	require.NoError(t, err)

	renamed, err := e.Rename(ctx, "ws_1", r1.File.ID, "b.md")
	require.NoError(t, err)
	require.Equal(t, "/docs/b.md", renamed.Path)
}

func TestRenameCollisionReturns409(t *testing.T) {
	ctx := context.Background()
	_, e := newFixture(t)

	r1, err := e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/docs/a.md", Content: "a"})
	require.NoError(t, err)
	_, err = e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/docs/b.md", Content: "b"})
	require.NoError(t, err)

	_, err = e.Rename(ctx, "ws_1", r1.File.ID, "b.md")
	require.Error(t, err)
	require.Equal(t, apperr.FileAlreadyExists, apperr.As(err).Code)
}

func TestRotateIssuesFreshTriple(t *testing.T) {
	ctx := context.Background()
	s, e := newFixture(t)

	r1, err := e.Put(ctx, PutInput{WorkspaceID: "ws_1", Path: "/a.md", Content: "a"})
	require.NoError(t, err)

	rotated, err := e.Rotate(ctx, "ws_1", r1.File.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rotated.Read)
	require.NotEmpty(t, rotated.Append)
	require.NotEmpty(t, rotated.Write)

	keys, err := s.ListCapabilityKeysByScope(ctx, "ws_1", "file", "/a.md")
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for _, k := range keys {
		require.Nil(t, k.RevokedAt)
	}
}
