// Package appendengine implements the append engine of spec §4.H: dense
// per-file append ids, author validation, content-preview and content-hash
// capture, cursor-based listing, and per-file task statistics.
package appendengine

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"mdplane/internal/apperr"
	"mdplane/internal/store"
)

const (
	defaultClaimTTLSeconds = 1800
	previewLength          = 280
)

var validTypes = map[string]bool{
	"task": true, "claim": true, "response": true, "comment": true,
	"blocked": true, "answer": true, "renew": true, "cancel": true, "vote": true,
}

var authorPattern = regexp.MustCompile(`^[A-Za-z0-9._\-@: ]{1,128}$`)

type Input struct {
	WorkspaceID    string
	FileID         string
	Author         string
	Type           string
	Status         string
	Priority       string
	Labels         []string
	Ref            string
	Content        string
	ExpiresAt      *time.Time
	DueAt          *time.Time
	ExpiresInSecs  int
}

type dto struct {
	Type     string `validate:"required,oneof=task claim response comment blocked answer renew cancel vote"`
	Priority string `validate:"omitempty,oneof=low medium high critical"`
}

type Engine struct {
	store    *store.Store
	validate *validator.Validate
}

func New(s *store.Store) *Engine {
	return &Engine{store: s, validate: validator.New()}
}

// Append validates and inserts a new append entry, assigning the next
// dense public id for the file.
func (e *Engine) Append(ctx context.Context, in Input) (store.Append, error) {
	if strings.TrimSpace(in.Author) == "" || !authorPattern.MatchString(in.Author) {
		return store.Append{}, apperr.New(apperr.InvalidAuthor, "author contains unsafe characters or is empty")
	}
	if !validTypes[in.Type] {
		return store.Append{}, apperr.New(apperr.InvalidRequest, "unknown append type")
	}
	if err := e.validate.Struct(dto{Type: in.Type, Priority: in.Priority}); err != nil {
		return store.Append{}, apperr.New(apperr.InvalidRequest, err.Error())
	}

	if in.Type == "claim" {
		if strings.TrimSpace(in.Ref) == "" {
			return store.Append{}, apperr.New(apperr.InvalidRequest, "claim requires ref naming an existing task")
		}
		task, err := e.store.GetAppendByPublicID(ctx, in.FileID, in.Ref)
		if err != nil {
			return store.Append{}, apperr.New(apperr.InvalidRequest, "ref does not resolve to an append in this file")
		}
		if task.Type != "task" {
			return store.Append{}, apperr.New(apperr.InvalidRequest, "ref must name a task")
		}
		if in.ExpiresAt == nil {
			secs := in.ExpiresInSecs
			if secs <= 0 {
				secs = defaultClaimTTLSeconds
			}
			expires := time.Now().Add(time.Duration(secs) * time.Second)
			in.ExpiresAt = &expires
		}
	} else if in.Ref != "" {
		if _, err := e.store.GetAppendByPublicID(ctx, in.FileID, in.Ref); err != nil {
			return store.Append{}, apperr.New(apperr.InvalidRequest, "ref does not resolve within this file")
		}
	}

	f, err := e.store.GetFileByID(ctx, in.FileID)
	if err != nil {
		return store.Append{}, apperr.New(apperr.FileNotFound, "file not found")
	}

	seq, err := e.store.NextAppendSeq(ctx, in.FileID)
	if err != nil {
		return store.Append{}, apperr.New(apperr.ServerError, "append sequencing failed")
	}

	a := store.Append{
		PublicID:       fmt.Sprintf("a%d", seq),
		FileID:         in.FileID,
		WorkspaceID:    in.WorkspaceID,
		Author:         in.Author,
		Type:           in.Type,
		Status:         in.Status,
		Priority:       in.Priority,
		Labels:         strings.Join(in.Labels, ","),
		Ref:            in.Ref,
		ContentPreview: preview(in.Content),
		ContentHash:    contentHash(f.Content),
		ExpiresAt:      in.ExpiresAt,
		DueAt:          in.DueAt,
	}
	created, err := e.store.InsertAppend(ctx, a)
	if err != nil {
		return store.Append{}, apperr.New(apperr.ServerError, "append insert failed")
	}
	_ = e.store.IndexAppend(ctx, created)
	return created, nil
}

func preview(content string) string {
	if len(content) <= previewLength {
		return content
	}
	return content[:previewLength]
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// EncodeCursor encodes an internal rowid as an opaque client-facing cursor.
func EncodeCursor(rowID int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(rowID, 10)))
}

// DecodeCursor decodes a client-supplied cursor back to a rowid.
func DecodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, apperr.New(apperr.InvalidRequest, "invalid cursor")
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.InvalidRequest, "invalid cursor")
	}
	return n, nil
}

// List returns a file's appends since a cursor, oldest first, capped at limit.
func (e *Engine) List(ctx context.Context, fileID string, since string, limit int) ([]store.Append, error) {
	sinceRowID, err := DecodeCursor(since)
	if err != nil {
		return nil, err
	}
	appends, err := e.store.ListAppends(ctx, fileID, sinceRowID, limit)
	if err != nil {
		return nil, apperr.New(apperr.ServerError, "append listing failed")
	}
	return appends, nil
}

// Get fetches a single append by public id, enforcing file-scope containment.
func (e *Engine) Get(ctx context.Context, fileID, appendID string) (store.Append, error) {
	a, err := e.store.GetAppendByPublicID(ctx, fileID, appendID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Append{}, apperr.New(apperr.AppendNotFound, "append not found")
		}
		return store.Append{}, apperr.New(apperr.ServerError, "lookup failed")
	}
	return a, nil
}

// TaskStats reduces a file's append log to pending/claimed/completed/active
// claim counts for quick per-file display; the authoritative derivation
// lives in the orchestration projector.
type TaskStats struct {
	Pending      int
	Claimed      int
	Completed    int
	ActiveClaims int
}

func (e *Engine) TaskStats(ctx context.Context, fileID string) (TaskStats, error) {
	appends, err := e.store.ListAppendsByFile(ctx, fileID)
	if err != nil {
		return TaskStats{}, apperr.New(apperr.ServerError, "append listing failed")
	}

	responded := map[string]bool{}
	activeClaimsByTask := map[string]time.Time{}
	now := time.Now()
	for _, a := range appends {
		switch a.Type {
		case "response":
			if a.Ref != "" {
				responded[a.Ref] = true
			}
		case "claim":
			if a.Ref != "" && a.ExpiresAt != nil && a.ExpiresAt.After(now) {
				if cur, ok := activeClaimsByTask[a.Ref]; !ok || a.CreatedAt.After(cur) {
					activeClaimsByTask[a.Ref] = a.CreatedAt
				}
			}
		}
	}

	var stats TaskStats
	stats.ActiveClaims = len(activeClaimsByTask)
	for _, a := range appends {
		if a.Type != "task" {
			continue
		}
		switch {
		case responded[a.PublicID]:
			stats.Completed++
		case activeClaimsByTask[a.PublicID].After(time.Time{}):
			stats.Claimed++
		default:
			stats.Pending++
		}
	}
	return stats, nil
}
