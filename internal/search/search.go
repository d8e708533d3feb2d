// Package search implements the search and stats surface of spec §4.O: a
// BM25-ranked full-text query over file content and append previews with a
// broad-query guard and a bounded timeout, plus scope-reduced workspace
// stats folding in task counts from the orchestration projector.
package search

import (
	"context"
	"strings"
	"time"

	"mdplane/internal/apperr"
	"mdplane/internal/orchestration"
	"mdplane/internal/store"
)

const (
	maxScopeFiles = 1000
	queryTimeout  = 30 * time.Second
)

type Engine struct {
	store *store.Store
}

func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Scope mirrors the path-resolution split used by the capability and
// file-engine layers: bare is the exact folder path, trailing carries the
// slash used for the LIKE-prefix match.
type Scope struct {
	Bare     string
	Trailing string
}

type FileResult struct {
	Hits      []store.FileSearchHit
	Truncated bool
}

// SearchFiles runs a BM25 query over indexed file content scoped to a
// folder or workspace, guarding against scopes too broad to search.
func (e *Engine) SearchFiles(ctx context.Context, workspaceID, query string, scope Scope, limit int) (FileResult, error) {
	if strings.TrimSpace(query) == "" {
		return FileResult{}, apperr.New(apperr.InvalidRequest, "query is required")
	}
	count, err := e.store.CountFilesByPrefix(ctx, workspaceID, scope.Bare, scope.Trailing)
	if err != nil {
		return FileResult{}, apperr.New(apperr.ServerError, "scope count failed")
	}
	if count > maxScopeFiles {
		return FileResult{}, apperr.New(apperr.QueryTooBroad, "search scope exceeds the per-query file limit")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	fetchLimit := limit
	if fetchLimit <= 0 || fetchLimit > 200 {
		fetchLimit = 200
	}
	hits, err := e.store.SearchFiles(ctx, workspaceID, query, scope.Bare, scope.Trailing, fetchLimit+1)
	if err != nil {
		return FileResult{}, apperr.New(apperr.ServerError, "search failed")
	}
	truncated := len(hits) > fetchLimit
	if truncated {
		hits = hits[:fetchLimit]
	}
	return FileResult{Hits: hits, Truncated: truncated}, nil
}

type AppendResult struct {
	Hits      []store.AppendSearchHit
	Truncated bool
}

// SearchAppends runs a BM25 query over indexed append previews, filtered
// by type/status/author.
func (e *Engine) SearchAppends(ctx context.Context, workspaceID, query, typeFilter, statusFilter, authorFilter string, limit int) (AppendResult, error) {
	if strings.TrimSpace(query) == "" {
		return AppendResult{}, apperr.New(apperr.InvalidRequest, "query is required")
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	fetchLimit := limit
	if fetchLimit <= 0 || fetchLimit > 200 {
		fetchLimit = 200
	}
	hits, err := e.store.SearchAppends(ctx, workspaceID, query, typeFilter, statusFilter, authorFilter, fetchLimit+1)
	if err != nil {
		return AppendResult{}, apperr.New(apperr.ServerError, "search failed")
	}
	truncated := len(hits) > fetchLimit
	if truncated {
		hits = hits[:fetchLimit]
	}
	return AppendResult{Hits: hits, Truncated: truncated}, nil
}

// Stats reduces a workspace scope to {fileCount, folderCount, totalSize,
// updatedAt, taskStats}. taskStats aggregates pending/claimed/completed/
// stalled counts across every file in the scope via the orchestration
// projector, so it agrees with the derivation the orchestration endpoints
// use rather than any denormalized convenience column.
type Stats struct {
	FileCount   int
	FolderCount int
	TotalSize   int64
	UpdatedAt   string
	TaskStats   TaskStats
}

type TaskStats struct {
	Pending   int
	Claimed   int
	Completed int
	Stalled   int
}

func (e *Engine) Stats(ctx context.Context, workspaceID string, scope Scope) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	raw, err := e.store.WorkspaceStatsByScope(ctx, workspaceID, scope.Bare, scope.Trailing)
	if err != nil {
		return Stats{}, apperr.New(apperr.ServerError, "stats query failed")
	}

	files, err := e.store.ListFilesByPrefix(ctx, workspaceID, scope.Bare, scope.Trailing, true, maxScopeFiles+1)
	if err != nil {
		return Stats{}, apperr.New(apperr.ServerError, "stats query failed")
	}
	truncatedFiles := false
	if len(files) > maxScopeFiles {
		files = files[:maxScopeFiles]
		truncatedFiles = true
	}
	_ = truncatedFiles // stats are best-effort over the capped scope; SearchFiles is the enforcement point for QUERY_TOO_BROAD

	appends, err := e.store.ListAppendsByWorkspace(ctx, workspaceID)
	if err != nil {
		return Stats{}, apperr.New(apperr.ServerError, "stats query failed")
	}
	fileIDs := make(map[string]bool, len(files))
	for _, f := range files {
		fileIDs[f.ID] = true
	}
	scoped := appends[:0:0]
	for _, a := range appends {
		if fileIDs[a.FileID] {
			scoped = append(scoped, a)
		}
	}

	tasks := orchestration.Project(scoped, orchestration.NewFilePaths(files), orchestration.Filter{})
	var ts TaskStats
	for _, t := range tasks {
		switch t.Status {
		case orchestration.StatusPending:
			ts.Pending++
		case orchestration.StatusClaimed:
			ts.Claimed++
		case orchestration.StatusCompleted:
			ts.Completed++
		case orchestration.StatusStalled:
			ts.Stalled++
		}
	}

	return Stats{
		FileCount:   raw.FileCount,
		FolderCount: raw.FolderCount,
		TotalSize:   raw.TotalSize,
		UpdatedAt:   raw.UpdatedAt.String,
		TaskStats:   ts,
	}, nil
}
