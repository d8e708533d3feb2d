package orchestration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdplane/internal/store"
)

func files() []store.File {
	return []store.File{{ID: "f1", Path: "/docs/a.md"}, {ID: "f2", Path: "/docs/b.md"}}
}

func TestProjectPendingTask(t *testing.T) {
	appends := []store.Append{
		{PublicID: "a1", FileID: "f1", Type: "task", CreatedAt: time.Now()},
	}
	tasks := Project(appends, NewFilePaths(files()), Filter{})
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusPending, tasks[0].Status)
}

func TestProjectClaimedTask(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Hour)
	appends := []store.Append{
		{PublicID: "a1", FileID: "f1", Type: "task", CreatedAt: now},
		{PublicID: "a2", FileID: "f1", Type: "claim", Ref: "a1", Author: "bob", ExpiresAt: &expires, CreatedAt: now.Add(time.Minute)},
	}
	tasks := Project(appends, NewFilePaths(files()), Filter{})
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusClaimed, tasks[0].Status)
	assert.Equal(t, "bob", tasks[0].ClaimedBy)
}

func TestProjectStalledTaskWhenClaimExpired(t *testing.T) {
	now := time.Now()
	expired := now.Add(-time.Minute)
	appends := []store.Append{
		{PublicID: "a1", FileID: "f1", Type: "task", CreatedAt: now},
		{PublicID: "a2", FileID: "f1", Type: "claim", Ref: "a1", Author: "bob", ExpiresAt: &expired, CreatedAt: now},
	}
	tasks := Project(appends, NewFilePaths(files()), Filter{})
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusStalled, tasks[0].Status)
}

func TestProjectCompletedOverridesClaim(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Hour)
	appends := []store.Append{
		{PublicID: "a1", FileID: "f1", Type: "task", CreatedAt: now},
		{PublicID: "a2", FileID: "f1", Type: "claim", Ref: "a1", ExpiresAt: &expires, CreatedAt: now},
		{PublicID: "a3", FileID: "f1", Type: "response", Ref: "a1", CreatedAt: now.Add(time.Minute)},
	}
	tasks := Project(appends, NewFilePaths(files()), Filter{})
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusCompleted, tasks[0].Status)
}

func TestProjectMultipleActiveClaimsCollapseToLatest(t *testing.T) {
	now := time.Now()
	e1 := now.Add(time.Hour)
	e2 := now.Add(2 * time.Hour)
	appends := []store.Append{
		{PublicID: "a1", FileID: "f1", Type: "task", CreatedAt: now},
		{PublicID: "a2", FileID: "f1", Type: "claim", Ref: "a1", Author: "alice", ExpiresAt: &e1, CreatedAt: now.Add(time.Minute)},
		{PublicID: "a3", FileID: "f1", Type: "claim", Ref: "a1", Author: "bob", ExpiresAt: &e2, CreatedAt: now.Add(2 * time.Minute)},
	}
	tasks := Project(appends, NewFilePaths(files()), Filter{})
	require.Len(t, tasks, 1)
	assert.Equal(t, "bob", tasks[0].ClaimedBy)
}

func TestFilterByFolder(t *testing.T) {
	now := time.Now()
	appends := []store.Append{
		{PublicID: "a1", FileID: "f1", Type: "task", CreatedAt: now},
		{PublicID: "a2", FileID: "f2", Type: "task", CreatedAt: now},
	}
	tasks := Project(appends, NewFilePaths(files()), Filter{Folder: "/docs/a"})
	require.Len(t, tasks, 1)
	assert.Equal(t, "a1", tasks[0].AppendID)
}

func TestClaimsInFolder(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Hour)
	appends := []store.Append{
		{PublicID: "a1", FileID: "f1", Type: "task", CreatedAt: now},
		{PublicID: "a2", FileID: "f1", Type: "claim", Ref: "a1", ExpiresAt: &expires, CreatedAt: now},
	}
	claims := ClaimsInFolder(appends, NewFilePaths(files()), "/docs/")
	require.Len(t, claims, 1)
	assert.Equal(t, "active", claims[0].Status)
}

func TestPaginate(t *testing.T) {
	tasks := []Task{{AppendID: "a1"}, {AppendID: "a2"}, {AppendID: "a3"}}
	page := Paginate(tasks, "", 2)
	require.Len(t, page, 2)
	nextPage := Paginate(tasks, "a2", 2)
	require.Len(t, nextPage, 1)
	assert.Equal(t, "a3", nextPage[0].AppendID)
}
