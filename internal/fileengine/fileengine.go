// Package fileengine implements the file mutation engine of spec §4.G:
// upsert, delete, recover, move, rename, and key rotation, with ETag-based
// optimistic concurrency and quota/size-cap enforcement. Generalizes the
// teacher's githubops.UpsertFile get-then-create-or-update shape from
// GitHub's SHA-based concurrency to content-hash ETags, and keeps its
// unique-constraint race recovery idiom for the insert path.
package fileengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"mdplane/internal/apperr"
	"mdplane/internal/audit"
	"mdplane/internal/keys"
	"mdplane/internal/store"
	"mdplane/internal/webhook"
)

const recoveryWindow = recoveryWindowDays * 24 * time.Hour

type Engine struct {
	store       *store.Store
	auditQueue  *audit.Queue
	dispatcher  *webhook.Dispatcher
	maxFileSize int64
	quota       int64
}

func New(s *store.Store, auditQueue *audit.Queue, dispatcher *webhook.Dispatcher, maxFileSize, quota int64) *Engine {
	return &Engine{store: s, auditQueue: auditQueue, dispatcher: dispatcher, maxFileSize: maxFileSize, quota: quota}
}

// ETag returns the strong, content-derived ETag for file content: distinct
// content for the same file yields distinct ETags, identical content yields
// identical ETags.
func ETag(content string) string {
	sum := sha256.Sum256([]byte(content))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

type PutResult struct {
	File        store.File
	Created     bool
	AppendsStale int
	ETag        string
}

type PutInput struct {
	WorkspaceID string
	Path        string
	Content     string
	IfMatch     string
	Actor       string
	IP          string
	UserAgent   string
}

// Put upserts a file at path: updates an existing live file under ETag
// preconditions, or inserts a new one, recovering from a concurrent
// unique-constraint collision by re-reading the winner and applying this
// call's content as an update.
func (e *Engine) Put(ctx context.Context, in PutInput) (PutResult, error) {
	newSize := int64(len(in.Content))
	if newSize > e.maxFileSize {
		return PutResult{}, apperr.New(apperr.PayloadTooLarge, "content exceeds file size limit")
	}

	existing, err := e.store.GetFile(ctx, in.WorkspaceID, in.Path)
	switch {
	case err == nil:
		return e.update(ctx, in, existing, newSize)
	case errors.Is(err, store.ErrNotFound):
		return e.insert(ctx, in, newSize)
	default:
		return PutResult{}, apperr.New(apperr.ServerError, "lookup failed")
	}
}

func (e *Engine) update(ctx context.Context, in PutInput, existing store.File, newSize int64) (PutResult, error) {
	if in.IfMatch != "" && in.IfMatch != ETag(existing.Content) {
		return PutResult{}, apperr.New(apperr.Conflict, "If-Match does not match current ETag")
	}
	delta := newSize - int64(len(existing.Content))
	if err := e.checkQuota(ctx, in.WorkspaceID, delta); err != nil {
		return PutResult{}, err
	}

	stale, err := e.countAppendsStale(ctx, existing.ID, in.Content)
	if err != nil {
		return PutResult{}, err
	}

	updated, err := e.store.UpdateFileContent(ctx, existing.ID, in.Content)
	if err != nil {
		return PutResult{}, apperr.New(apperr.ServerError, "update failed")
	}
	if err := e.store.AdjustStorageUsage(ctx, in.WorkspaceID, delta); err != nil {
		return PutResult{}, apperr.New(apperr.ServerError, "storage accounting failed")
	}
	_ = e.store.IndexFile(ctx, updated.ID, in.WorkspaceID, updated.Path, updated.Content)

	e.emit(ctx, "file.updated", in, updated)
	return PutResult{File: updated, AppendsStale: stale, ETag: ETag(updated.Content)}, nil
}

func (e *Engine) insert(ctx context.Context, in PutInput, newSize int64) (PutResult, error) {
	if err := e.checkQuota(ctx, in.WorkspaceID, newSize); err != nil {
		return PutResult{}, err
	}

	f := store.File{ID: uuid.NewString(), WorkspaceID: in.WorkspaceID, Path: in.Path, Content: in.Content}
	created, err := e.store.InsertFile(ctx, f)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the insert race: re-read the winner and apply our
			// content as an update instead.
			winner, getErr := e.store.GetFile(ctx, in.WorkspaceID, in.Path)
			if getErr != nil {
				return PutResult{}, apperr.New(apperr.ServerError, "race recovery failed")
			}
			return e.update(ctx, in, winner, newSize)
		}
		return PutResult{}, apperr.New(apperr.ServerError, "insert failed")
	}
	if err := e.store.AdjustStorageUsage(ctx, in.WorkspaceID, newSize); err != nil {
		return PutResult{}, apperr.New(apperr.ServerError, "storage accounting failed")
	}
	_ = e.store.IndexFile(ctx, created.ID, in.WorkspaceID, created.Path, created.Content)

	e.emit(ctx, "file.created", in, created)
	return PutResult{File: created, Created: true, ETag: ETag(created.Content)}, nil
}

func (e *Engine) checkQuota(ctx context.Context, workspaceID string, delta int64) error {
	if delta <= 0 {
		return nil
	}
	ws, err := e.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return apperr.New(apperr.WorkspaceNotFound, "workspace not found")
	}
	if ws.StorageUsedBytes+delta > e.quota {
		return apperr.New(apperr.QuotaExceeded, "workspace storage quota exceeded")
	}
	return nil
}

// countAppendsStale counts appends whose recorded content-hash no longer
// matches newContent, for the response's appendsStale field.
func (e *Engine) countAppendsStale(ctx context.Context, fileID, newContent string) (int, error) {
	appends, err := e.store.ListAppendsByFile(ctx, fileID)
	if err != nil {
		return 0, apperr.New(apperr.ServerError, "append lookup failed")
	}
	newHash := contentHash(newContent)
	stale := 0
	for _, a := range appends {
		if a.ContentHash != "" && a.ContentHash != newHash {
			stale++
		}
	}
	return stale, nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type DeleteInput struct {
	WorkspaceID string
	Path        string
	Permanent   bool
	Actor       string
	IP          string
	UserAgent   string
}

type DeleteResult struct {
	Recoverable bool
	ExpiresAt   string
}

const recoveryWindowDays = 7

func (e *Engine) Delete(ctx context.Context, in DeleteInput) (DeleteResult, error) {
	f, err := e.store.GetFile(ctx, in.WorkspaceID, in.Path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DeleteResult{}, apperr.New(apperr.FileNotFound, "file not found")
		}
		return DeleteResult{}, apperr.New(apperr.ServerError, "lookup failed")
	}

	size := int64(len(f.Content))
	if in.Permanent {
		if err := e.store.HardDeleteFile(ctx, f.ID); err != nil {
			return DeleteResult{}, apperr.New(apperr.ServerError, "delete failed")
		}
		_ = e.store.DeindexFile(ctx, f.ID)
		if err := e.store.AdjustStorageUsage(ctx, in.WorkspaceID, -size); err != nil {
			return DeleteResult{}, apperr.New(apperr.ServerError, "storage accounting failed")
		}
		e.emitDelete(ctx, in, f)
		return DeleteResult{Recoverable: false}, nil
	}

	if err := e.store.SoftDeleteFile(ctx, f.ID); err != nil {
		return DeleteResult{}, apperr.New(apperr.ServerError, "delete failed")
	}
	if err := e.store.AdjustStorageUsage(ctx, in.WorkspaceID, -size); err != nil {
		return DeleteResult{}, apperr.New(apperr.ServerError, "storage accounting failed")
	}
	e.emitDelete(ctx, in, f)
	return DeleteResult{Recoverable: true, ExpiresAt: recoveryDeadline(f)}, nil
}

// Recover restores a soft-deleted file if within the recovery window.
func (e *Engine) Recover(ctx context.Context, fileID string) (store.File, error) {
	f, err := e.store.GetFileByID(ctx, fileID)
	if err != nil {
		return store.File{}, apperr.New(apperr.FileNotFound, "file not found")
	}
	if f.DeletedAt == nil {
		return store.File{}, apperr.New(apperr.FileNotFound, "file is not deleted")
	}
	if recoveryExpired(f) {
		return store.File{}, apperr.New(apperr.SourceNotFound, "recovery window has expired")
	}
	restored, err := e.store.RestoreFile(ctx, fileID)
	if err != nil {
		return store.File{}, apperr.New(apperr.ServerError, "recover failed")
	}
	if err := e.store.AdjustStorageUsage(ctx, restored.WorkspaceID, int64(len(restored.Content))); err != nil {
		return store.File{}, apperr.New(apperr.ServerError, "storage accounting failed")
	}
	_ = e.store.IndexFile(ctx, restored.ID, restored.WorkspaceID, restored.Path, restored.Content)
	return restored, nil
}

// Move changes a file's path, rejecting occupied destinations.
func (e *Engine) Move(ctx context.Context, workspaceID, fileID, destPath string) (store.File, error) {
	if _, err := e.store.GetFile(ctx, workspaceID, destPath); err == nil {
		return store.File{}, apperr.New(apperr.FileAlreadyExists, "destination path already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.File{}, apperr.New(apperr.ServerError, "lookup failed")
	}
	if err := e.store.MoveFile(ctx, fileID, destPath); err != nil {
		return store.File{}, apperr.New(apperr.ServerError, "move failed")
	}
	return e.store.GetFileByID(ctx, fileID)
}

// Rename changes only the final path segment, preserving the parent
// directory, rejecting a collision with 409 FILE_ALREADY_EXISTS.
func (e *Engine) Rename(ctx context.Context, workspaceID, fileID, newName string) (store.File, error) {
	f, err := e.store.GetFileByID(ctx, fileID)
	if err != nil {
		return store.File{}, apperr.New(apperr.FileNotFound, "file not found")
	}
	parent := parentDir(f.Path)
	newPath := joinPath(parent, newName)
	if _, err := e.store.GetFile(ctx, workspaceID, newPath); err == nil {
		return store.File{}, apperr.New(apperr.FileAlreadyExists, "new name collides with an existing file")
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.File{}, apperr.New(apperr.ServerError, "lookup failed")
	}
	if err := e.store.MoveFile(ctx, fileID, newPath); err != nil {
		return store.File{}, apperr.New(apperr.ServerError, "rename failed")
	}
	return e.store.GetFileByID(ctx, fileID)
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func (e *Engine) emit(ctx context.Context, eventType string, in PutInput, f store.File) {
	e.auditQueue.Enqueue(store.AuditEntry{
		ID: uuid.NewString(), WorkspaceID: in.WorkspaceID, Action: eventType,
		ResourceType: "file", ResourceID: f.ID, ResourcePath: f.Path,
		Actor: in.Actor, ActorType: "capability_key", IP: in.IP, UserAgent: in.UserAgent,
	})
	e.dispatcher.Dispatch(ctx, webhook.Event{Type: eventType, WorkspaceID: in.WorkspaceID, Path: f.Path})
}

func (e *Engine) emitDelete(ctx context.Context, in DeleteInput, f store.File) {
	e.auditQueue.Enqueue(store.AuditEntry{
		ID: uuid.NewString(), WorkspaceID: in.WorkspaceID, Action: "file.deleted",
		ResourceType: "file", ResourceID: f.ID, ResourcePath: f.Path,
		Actor: in.Actor, ActorType: "capability_key", IP: in.IP, UserAgent: in.UserAgent,
	})
	e.dispatcher.Dispatch(ctx, webhook.Event{Type: "file.deleted", WorkspaceID: in.WorkspaceID, Path: f.Path})
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func recoveryDeadline(f store.File) string {
	if f.DeletedAt == nil {
		return ""
	}
	return f.DeletedAt.Add(recoveryWindow).UTC().Format(time.RFC3339Nano)
}

func recoveryExpired(f store.File) bool {
	if f.DeletedAt == nil {
		return true
	}
	return time.Now().After(f.DeletedAt.Add(recoveryWindow))
}

// RotatedKeys is the fresh read/append/write triple issued by Rotate.
type RotatedKeys struct {
	Read   string
	Append string
	Write  string
}

// Rotate revokes every capability key scoped to fileID's path and issues a
// new read/append/write triple in its place.
func (e *Engine) Rotate(ctx context.Context, workspaceID, fileID string) (RotatedKeys, error) {
	f, err := e.store.GetFileByID(ctx, fileID)
	if err != nil {
		return RotatedKeys{}, apperr.New(apperr.FileNotFound, "file not found")
	}
	if err := e.store.RevokeCapabilityKeysByScope(ctx, workspaceID, "file", f.Path); err != nil {
		return RotatedKeys{}, apperr.New(apperr.ServerError, "revoke failed")
	}

	out := RotatedKeys{}
	for _, perm := range []keys.Permission{keys.PermissionRead, keys.PermissionAppend, keys.PermissionWrite} {
		plaintext, err := keys.GenerateScoped(perm)
		if err != nil {
			return RotatedKeys{}, apperr.New(apperr.ServerError, "key generation failed")
		}
		_, err = e.store.InsertCapabilityKey(ctx, store.CapabilityKey{
			ID: uuid.NewString(), WorkspaceID: workspaceID, Prefix: plaintext[:4],
			Hash: keys.Hash(plaintext), Permission: perm.String(), ScopeType: "file", ScopePath: f.Path,
		})
		if err != nil {
			return RotatedKeys{}, apperr.New(apperr.ServerError, "key insert failed")
		}
		switch perm {
		case keys.PermissionRead:
			out.Read = plaintext
		case keys.PermissionAppend:
			out.Append = plaintext
		case keys.PermissionWrite:
			out.Write = plaintext
		}
	}
	return out, nil
}
