package claimops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mdplane/internal/appendengine"
	"mdplane/internal/orchestration"
	"mdplane/internal/store"
)

func newFixture(t *testing.T) (*store.Store, *appendengine.Engine, *Ops, string) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	_, err = s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)
	f, err := s.InsertFile(ctx, store.File{ID: "f1", WorkspaceID: "ws_1", Path: "/todo.md", Content: "hello"})
	require.NoError(t, err)
	return s, appendengine.New(s), New(s), f.ID
}

func TestRenewExtendsExpiryAndMovesStalledBackToClaimed(t *testing.T) {
	ctx := context.Background()
	s, ae, ops, fileID := newFixture(t)

	task, err := ae.Append(ctx, appendengine.Input{WorkspaceID: "ws_1", FileID: fileID, Author: "alice", Type: "task", Content: "x"})
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	claim, err := ae.Append(ctx, appendengine.Input{WorkspaceID: "ws_1", FileID: fileID, Author: "bob", Type: "claim", Ref: task.PublicID, ExpiresAt: &past})
	require.NoError(t, err)

	appends, err := s.ListAppendsByFile(ctx, fileID)
	require.NoError(t, err)
	files := []store.File{{ID: fileID, Path: "/todo.md"}}
	before := orchestration.Project(appends, orchestration.NewFilePaths(files), orchestration.Filter{})
	require.Len(t, before, 1)
	require.Equal(t, orchestration.StatusStalled, before[0].Status)

	_, err = ops.Renew(ctx, "ws_1", fileID, claim.PublicID, 1800)
	require.NoError(t, err)

	appends, err = s.ListAppendsByFile(ctx, fileID)
	require.NoError(t, err)
	after := orchestration.Project(appends, orchestration.NewFilePaths(files), orchestration.Filter{})
	require.Len(t, after, 1)
	require.Equal(t, orchestration.StatusClaimed, after[0].Status)
}

func TestCompleteMarksTaskCompletedRegardlessOfClaim(t *testing.T) {
	ctx := context.Background()
	s, ae, ops, fileID := newFixture(t)

	task, err := ae.Append(ctx, appendengine.Input{WorkspaceID: "ws_1", FileID: fileID, Author: "alice", Type: "task", Content: "x"})
	require.NoError(t, err)
	_, err = ae.Append(ctx, appendengine.Input{WorkspaceID: "ws_1", FileID: fileID, Author: "bob", Type: "claim", Ref: task.PublicID})
	require.NoError(t, err)

	_, err = ops.Complete(ctx, "ws_1", fileID, task.PublicID, "bob", "done")
	require.NoError(t, err)

	appends, err := s.ListAppendsByFile(ctx, fileID)
	require.NoError(t, err)
	files := []store.File{{ID: fileID, Path: "/todo.md"}}
	tasks := orchestration.Project(appends, orchestration.NewFilePaths(files), orchestration.Filter{})
	require.Len(t, tasks, 1)
	require.Equal(t, orchestration.StatusCompleted, tasks[0].Status)
}

func TestCompleteRejectsUnknownTask(t *testing.T) {
	ctx := context.Background()
	_, _, ops, fileID := newFixture(t)

	_, err := ops.Complete(ctx, "ws_1", fileID, "a999", "bob", "done")
	require.Error(t, err)
}

func TestCancelWritesEntryAgainstClaim(t *testing.T) {
	ctx := context.Background()
	s, ae, ops, fileID := newFixture(t)

	task, err := ae.Append(ctx, appendengine.Input{WorkspaceID: "ws_1", FileID: fileID, Author: "alice", Type: "task", Content: "x"})
	require.NoError(t, err)
	claim, err := ae.Append(ctx, appendengine.Input{WorkspaceID: "ws_1", FileID: fileID, Author: "bob", Type: "claim", Ref: task.PublicID})
	require.NoError(t, err)

	res, err := ops.Cancel(ctx, "ws_1", fileID, claim.PublicID, "bob", "changed my mind")
	require.NoError(t, err)
	require.Equal(t, "cancel", res.Claim.Type)
	require.Equal(t, claim.PublicID, res.Claim.Ref)

	got, err := s.GetAppendByPublicID(ctx, fileID, res.AppendID)
	require.NoError(t, err)
	require.Equal(t, "changed my mind", got.ContentPreview)
}

func TestBlockRequiresReason(t *testing.T) {
	ctx := context.Background()
	_, ae, ops, fileID := newFixture(t)

	task, err := ae.Append(ctx, appendengine.Input{WorkspaceID: "ws_1", FileID: fileID, Author: "alice", Type: "task", Content: "x"})
	require.NoError(t, err)

	_, err = ops.Block(ctx, "ws_1", fileID, task.PublicID, "bob", "")
	require.Error(t, err)

	res, err := ops.Block(ctx, "ws_1", fileID, task.PublicID, "bob", "missing dependency")
	require.NoError(t, err)
	require.Equal(t, "blocked", res.Claim.Type)
}

func TestRenewDefaultsTTLWhenUnspecified(t *testing.T) {
	ctx := context.Background()
	_, ae, ops, fileID := newFixture(t)

	task, err := ae.Append(ctx, appendengine.Input{WorkspaceID: "ws_1", FileID: fileID, Author: "alice", Type: "task", Content: "x"})
	require.NoError(t, err)
	claim, err := ae.Append(ctx, appendengine.Input{WorkspaceID: "ws_1", FileID: fileID, Author: "bob", Type: "claim", Ref: task.PublicID})
	require.NoError(t, err)

	res, err := ops.Renew(ctx, "ws_1", fileID, claim.PublicID, 0)
	require.NoError(t, err)
	require.True(t, time.Until(*res.Claim.ExpiresAt) > 30*time.Minute-time.Minute)
}
