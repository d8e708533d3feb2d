// Package claimops implements the claim lifecycle operators of spec §4.J:
// renew and cancel locate a claim by its own append id, complete and block
// locate a task by its append id, and each appends a new log entry, leaving
// the orchestration projector to derive the resulting state.
package claimops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mdplane/internal/apperr"
	"mdplane/internal/store"
)

type Result struct {
	Claim    store.Append
	AppendID string
}

type Ops struct {
	store *store.Store
}

func New(s *store.Store) *Ops {
	return &Ops{store: s}
}

// findClaim locates a claim append by its public append id, rejecting ids
// that name an append of any other type.
func (o *Ops) findClaim(ctx context.Context, fileID, claimID string) (store.Append, error) {
	claim, err := o.store.GetAppendByPublicID(ctx, fileID, claimID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Append{}, apperr.New(apperr.AppendNotFound, "claim not found")
		}
		return store.Append{}, apperr.New(apperr.ServerError, "claim lookup failed")
	}
	if claim.Type != "claim" {
		return store.Append{}, apperr.New(apperr.InvalidRequest, "append is not a claim")
	}
	return claim, nil
}

func (o *Ops) nextAppend(ctx context.Context, fileID string) (string, error) {
	seq, err := o.store.NextAppendSeq(ctx, fileID)
	if err != nil {
		return "", apperr.New(apperr.ServerError, "append sequencing failed")
	}
	return fmt.Sprintf("a%d", seq), nil
}

// Renew writes a renew entry and pushes the original claim's expiresAt
// forward to now + expiresInSeconds.
func (o *Ops) Renew(ctx context.Context, workspaceID, fileID, claimID string, expiresInSeconds int) (Result, error) {
	claim, err := o.findClaim(ctx, fileID, claimID)
	if err != nil {
		return Result{}, err
	}
	if expiresInSeconds == 0 {
		expiresInSeconds = 1800
	}
	newExpiry := time.Now().Add(time.Duration(expiresInSeconds) * time.Second)

	publicID, err := o.nextAppend(ctx, fileID)
	if err != nil {
		return Result{}, err
	}
	entry := store.Append{
		PublicID:    publicID,
		FileID:      fileID,
		WorkspaceID: workspaceID,
		Author:      claim.Author,
		Type:        "renew",
		Ref:         claim.PublicID,
		ExpiresAt:   &newExpiry,
	}
	created, err := o.store.InsertAppend(ctx, entry)
	if err != nil {
		return Result{}, apperr.New(apperr.ServerError, "renew insert failed")
	}
	if err := o.store.UpdateAppendExpiry(ctx, claim.RowID, newExpiry.UTC().Format(time.RFC3339Nano)); err != nil {
		return Result{}, apperr.New(apperr.ServerError, "claim expiry update failed")
	}
	return Result{Claim: created, AppendID: created.PublicID}, nil
}

// Complete writes a response entry referencing the task id, marking it
// completed for subsequent projections regardless of any active claim.
func (o *Ops) Complete(ctx context.Context, workspaceID, fileID, taskID, author, content string) (Result, error) {
	if strings.TrimSpace(taskID) == "" {
		return Result{}, apperr.New(apperr.InvalidRequest, "taskId is required")
	}
	task, err := o.store.GetAppendByPublicID(ctx, fileID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, apperr.New(apperr.AppendNotFound, "task not found")
		}
		return Result{}, apperr.New(apperr.ServerError, "task lookup failed")
	}
	if task.Type != "task" {
		return Result{}, apperr.New(apperr.InvalidRequest, "taskId does not name a task")
	}

	publicID, err := o.nextAppend(ctx, fileID)
	if err != nil {
		return Result{}, err
	}
	entry := store.Append{
		PublicID:       publicID,
		FileID:         fileID,
		WorkspaceID:    workspaceID,
		Author:         author,
		Type:           "response",
		Ref:            task.PublicID,
		ContentPreview: preview(content),
	}
	created, err := o.store.InsertAppend(ctx, entry)
	if err != nil {
		return Result{}, apperr.New(apperr.ServerError, "response insert failed")
	}
	return Result{Claim: created, AppendID: created.PublicID}, nil
}

// Cancel writes a cancel entry against a claim, with an optional reason.
func (o *Ops) Cancel(ctx context.Context, workspaceID, fileID, claimID, author, reason string) (Result, error) {
	claim, err := o.findClaim(ctx, fileID, claimID)
	if err != nil {
		return Result{}, err
	}
	publicID, err := o.nextAppend(ctx, fileID)
	if err != nil {
		return Result{}, err
	}
	entry := store.Append{
		PublicID:       publicID,
		FileID:         fileID,
		WorkspaceID:    workspaceID,
		Author:         author,
		Type:           "cancel",
		Ref:            claim.PublicID,
		ContentPreview: preview(reason),
	}
	created, err := o.store.InsertAppend(ctx, entry)
	if err != nil {
		return Result{}, apperr.New(apperr.ServerError, "cancel insert failed")
	}
	return Result{Claim: created, AppendID: created.PublicID}, nil
}

// Block writes a blocked entry against a task; reason is required.
func (o *Ops) Block(ctx context.Context, workspaceID, fileID, taskID, author, reason string) (Result, error) {
	if strings.TrimSpace(reason) == "" {
		return Result{}, apperr.New(apperr.InvalidRequest, "reason is required to block a task")
	}
	task, err := o.store.GetAppendByPublicID(ctx, fileID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, apperr.New(apperr.AppendNotFound, "task not found")
		}
		return Result{}, apperr.New(apperr.ServerError, "task lookup failed")
	}

	publicID, err := o.nextAppend(ctx, fileID)
	if err != nil {
		return Result{}, err
	}
	entry := store.Append{
		PublicID:       publicID,
		FileID:         fileID,
		WorkspaceID:    workspaceID,
		Author:         author,
		Type:           "blocked",
		Ref:            task.PublicID,
		ContentPreview: preview(reason),
	}
	created, err := o.store.InsertAppend(ctx, entry)
	if err != nil {
		return Result{}, apperr.New(apperr.ServerError, "block insert failed")
	}
	return Result{Claim: created, AppendID: created.PublicID}, nil
}

func preview(s string) string {
	const max = 280
	if len(s) <= max {
		return s
	}
	return s[:max]
}
