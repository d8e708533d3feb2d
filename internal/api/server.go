// Package api wires the URL taxonomy of spec §6 onto the core engines,
// generalizing the teacher's chi Router()/New() shape: a capability key in
// the path resolves to a workspace/permission/scope bundle, then each
// handler runs the path-validate, capability-resolve, idempotency-replay,
// mutate, audit-enqueue, webhook-enqueue, envelope-response pipeline.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mdplane/internal/apikeys"
	"mdplane/internal/appendengine"
	"mdplane/internal/apperr"
	"mdplane/internal/audit"
	"mdplane/internal/capresolve"
	"mdplane/internal/claimops"
	"mdplane/internal/clientip"
	"mdplane/internal/config"
	"mdplane/internal/envelope"
	"mdplane/internal/fileengine"
	"mdplane/internal/idempotency"
	"mdplane/internal/keys"
	"mdplane/internal/orchestration"
	"mdplane/internal/pathsec"
	"mdplane/internal/ratelimit"
	"mdplane/internal/search"
	"mdplane/internal/session"
	"mdplane/internal/ssrf"
	"mdplane/internal/store"
	"mdplane/internal/webhook"
)

// Server holds every engine the route handlers need, assembled once at
// startup by cmd/mdplane-api.
type Server struct {
	cfg        config.Config
	store      *store.Store
	files      *fileengine.Engine
	appends    *appendengine.Engine
	claims     *claimops.Ops
	searchers  *search.Engine
	apiKeys    *apikeys.Manager
	sessions   *session.Signer
	auditQueue *audit.Queue
	dispatcher *webhook.Dispatcher
	resolver   *capresolve.Resolver
	limiter    *ratelimit.Limiter
	log        *zap.Logger
	ipPolicy   clientip.Policy

	// ssrfResolver backs the outbound-URL check in handleCreateSubscription.
	// Defaults to ssrf.DefaultResolver; tests may swap in a fake to avoid
	// depending on live DNS.
	ssrfResolver ssrf.Resolver
}

func New(
	cfg config.Config,
	st *store.Store,
	files *fileengine.Engine,
	appends *appendengine.Engine,
	claims *claimops.Ops,
	searchers *search.Engine,
	apiKeys *apikeys.Manager,
	sessions *session.Signer,
	auditQueue *audit.Queue,
	dispatcher *webhook.Dispatcher,
	limiter *ratelimit.Limiter,
	log *zap.Logger,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		store:      st,
		files:      files,
		appends:    appends,
		claims:     claims,
		searchers:  searchers,
		apiKeys:    apiKeys,
		sessions:   sessions,
		auditQueue: auditQueue,
		dispatcher: dispatcher,
		resolver:     capresolve.New(st),
		limiter:      limiter,
		log:          log,
		ssrfResolver: ssrf.DefaultResolver,
		ipPolicy: clientip.Policy{
			TrustProxyHeaders:           cfg.TrustProxyHeaders,
			TrustSingleXForwardedFor:    cfg.TrustSingleXForwardedFor,
			TrustedProxySharedSecretHdr: cfg.TrustedProxySharedSecretHdr,
			TrustedProxySharedSecret:    cfg.TrustedProxySharedSecret,
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/bootstrap", s.handleBootstrap)

	r.Route("/r/{key}", func(r chi.Router) {
		r.Get("/*", s.handleRead)
	})
	r.Route("/a/{key}", func(r chi.Router) {
		r.Get("/tasks", s.handleListTasks)
		r.Get("/claims", s.handleListClaims)
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Post("/subscriptions", s.handleCreateSubscription)
		r.Delete("/subscriptions/{subId}", s.handleDeleteSubscription)
		r.Get("/*", s.handleListAppends)
		r.Post("/*", s.handleCreateAppend)
	})
	r.Route("/w/{key}", func(r chi.Router) {
		r.Post("/claim", s.handleClaimWorkspace)
		r.Post("/rotate", s.handleRotateKey)
		r.Post("/move", s.handleMoveFile)
		r.Post("/recover", s.handleRecoverFile)
		r.Put("/*", s.handlePutFile)
		r.Patch("/*", s.handleRenameFile)
		r.Post("/*", s.handleUpdateSettings)
		r.Delete("/*", s.handleDeleteFile)
	})

	r.Route("/workspaces/{id}/orchestration/claims/{claimId}", func(r chi.Router) {
		r.Post("/renew", s.handleClaimOp(opRenew))
		r.Post("/complete", s.handleClaimOp(opComplete))
		r.Post("/cancel", s.handleClaimOp(opCancel))
		r.Post("/block", s.handleClaimOp(opBlock))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", s.handleAPISearch)
		r.Get("/export", s.handleAPIExport)
		r.Post("/keys", s.handleAPIMintKey)
		r.Delete("/keys/{id}", s.handleAPIRevokeKey)
	})

	return r
}

// pathFromWildcard reconstructs the resource path from chi's "*" wildcard,
// which arrives without a leading slash.
func pathFromWildcard(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (s *Server) clientIP(r *http.Request) string {
	return clientip.Resolve(r.Header, s.ipPolicy)
}

func (s *Server) checkRateLimit(w http.ResponseWriter, r *http.Request, keyHash, action string) bool {
	ok, retryAfter := s.limiter.Allow(keyHash, action)
	if ok {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	envelope.Fail(w, apperr.New(apperr.RateLimited, "rate limit exceeded"))
	return false
}

// handleBootstrap creates a new workspace and mints its initial
// read/append/write capability key triple, scoped to the whole workspace.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID := uuid.NewString()
	if _, err := s.store.CreateWorkspace(ctx, wsID, wsID); err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "workspace creation failed"))
		return
	}

	issued := map[string]string{}
	for _, perm := range []keys.Permission{keys.PermissionRead, keys.PermissionAppend, keys.PermissionWrite} {
		plaintext, err := keys.GenerateScoped(perm)
		if err != nil {
			envelope.Fail(w, apperr.New(apperr.ServerError, "key generation failed"))
			return
		}
		rec := store.CapabilityKey{
			ID: uuid.NewString(), WorkspaceID: wsID, Prefix: plaintext[:2], Hash: keys.Hash(plaintext),
			Permission: perm.String(), ScopeType: "workspace", ScopePath: "/",
		}
		if _, err := s.store.InsertCapabilityKey(ctx, rec); err != nil {
			envelope.Fail(w, apperr.New(apperr.ServerError, "key storage failed"))
			return
		}
		issued[perm.String()] = plaintext
	}

	readKey, appendKey, writeKey := issued["read"], issued["append"], issued["write"]
	envelope.WriteStatus(w, http.StatusCreated, map[string]any{
		"workspaceId": wsID,
		"keys":        map[string]string{"read": readKey, "append": appendKey, "w": writeKey},
		"urls": map[string]string{
			"read":   "/r/" + readKey,
			"append": "/a/" + appendKey,
			"w":      "/w/" + writeKey,
		},
	})
}

func (s *Server) resolveKey(r *http.Request, required keys.Permission) (capresolve.Bundle, string, error) {
	plaintext := chi.URLParam(r, "key")
	path := pathFromWildcard(r)
	normalized, err := pathsec.Validate(path)
	if err != nil {
		return capresolve.Bundle{}, "", err
	}
	bundle, err := s.resolver.Resolve(r.Context(), plaintext, capresolve.Options{
		RequiredPermission: required, HasRequirement: true,
		PathHint: normalized, HasPathHint: true,
	})
	return bundle, normalized, err
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	bundle, path, err := s.resolveKey(r, keys.PermissionRead)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	if !s.checkRateLimit(w, r, bundle.ID, "read") {
		return
	}
	ctx := r.Context()

	if q := r.URL.Query().Get("q"); q != "" {
		res, err := s.searchers.SearchFiles(ctx, bundle.WorkspaceID, q, search.Scope{Bare: path, Trailing: pathsec.NormalizeFolder(path)}, 50)
		if err != nil {
			envelope.Fail(w, err)
			return
		}
		envelope.OK(w, res)
		return
	}

	f, err := s.store.GetFile(ctx, bundle.WorkspaceID, path)
	if err == nil {
		envelope.OK(w, map[string]any{
			"path":    f.Path,
			"content": f.Content,
			"etag":    fileengine.ETag(f.Content),
		})
		return
	}

	files, lerr := s.store.ListFilesByPrefix(ctx, bundle.WorkspaceID, path, pathsec.NormalizeFolder(path), false, 1000)
	if lerr != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "listing failed"))
		return
	}
	envelope.OK(w, files)
}

func (s *Server) handleListAppends(w http.ResponseWriter, r *http.Request) {
	bundle, path, err := s.resolveKey(r, keys.PermissionRead)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	f, err := s.store.GetFile(r.Context(), bundle.WorkspaceID, path)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.FileNotFound, "file not found"))
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, cerr := strconv.Atoi(l); cerr == nil {
			limit = n
		}
	}
	list, err := s.appends.List(r.Context(), f.ID, r.URL.Query().Get("since"), limit)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	envelope.OK(w, list)
}

// scopedFilesAndAppends gathers the files and appends a bundle's scope
// covers: a single file for a file-scoped key, or every live file under the
// folder/workspace prefix otherwise. Shared by the task and claims views.
func (s *Server) scopedFilesAndAppends(ctx context.Context, bundle capresolve.Bundle) ([]store.File, []store.Append, error) {
	var files []store.File
	if bundle.ScopeType == "file" {
		f, err := s.store.GetFile(ctx, bundle.WorkspaceID, bundle.ScopePath)
		if err != nil {
			return nil, nil, err
		}
		files = []store.File{f}
	} else {
		listed, err := s.store.ListFilesByPrefix(ctx, bundle.WorkspaceID, bundle.ScopePath, pathsec.NormalizeFolder(bundle.ScopePath), true, 10000)
		if err != nil {
			return nil, nil, err
		}
		files = listed
	}

	fileIDs := make(map[string]bool, len(files))
	for _, f := range files {
		fileIDs[f.ID] = true
	}
	all, err := s.store.ListAppendsByWorkspace(ctx, bundle.WorkspaceID)
	if err != nil {
		return nil, nil, err
	}
	scoped := all[:0:0]
	for _, a := range all {
		if fileIDs[a.FileID] {
			scoped = append(scoped, a)
		}
	}
	return files, scoped, nil
}

// handleListTasks implements the filtered/paginated task-state listing of
// spec §4.I under the append permission surface.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "key"), capresolve.Options{
		RequiredPermission: keys.PermissionRead, HasRequirement: true,
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	if !s.checkRateLimit(w, r, bundle.ID, "read") {
		return
	}
	files, appends, err := s.scopedFilesAndAppends(r.Context(), bundle)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "listing failed"))
		return
	}

	q := r.URL.Query()
	filter := orchestration.Filter{Agent: q.Get("agent"), File: q.Get("file"), Folder: q.Get("folder")}
	if sc := q.Get("status"); sc != "" {
		filter.Status = map[orchestration.Status]bool{}
		for _, v := range strings.Split(sc, ",") {
			filter.Status[orchestration.Status(strings.TrimSpace(v))] = true
		}
	}
	if pc := q.Get("priority"); pc != "" {
		filter.Priority = map[string]bool{}
		for _, v := range strings.Split(pc, ",") {
			filter.Priority[strings.TrimSpace(v)] = true
		}
	}

	tasks := orchestration.Project(appends, orchestration.NewFilePaths(files), filter)
	limit := 0
	if l := q.Get("limit"); l != "" {
		if n, cerr := strconv.Atoi(l); cerr == nil {
			limit = n
		}
	}
	envelope.OK(w, orchestration.Paginate(tasks, q.Get("cursor"), limit))
}

// handleListClaims implements the folder-subtree claims view of spec §4.I
// ("list claims" under the append permission surface, spec §6).
func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "key"), capresolve.Options{
		RequiredPermission: keys.PermissionRead, HasRequirement: true,
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	if !s.checkRateLimit(w, r, bundle.ID, "read") {
		return
	}
	files, appends, err := s.scopedFilesAndAppends(r.Context(), bundle)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "listing failed"))
		return
	}
	folder := pathsec.NormalizeFolder(bundle.ScopePath)
	if bundle.ScopeType == "file" {
		folder = ""
	}
	envelope.OK(w, orchestration.ClaimsInFolder(appends, orchestration.NewFilePaths(files), folder))
}

type subscriptionBody struct {
	URL         string `json:"url"`
	EventFilter string `json:"eventFilter"`
	FolderPath  string `json:"folderPath"`
}

// handleListSubscriptions, handleCreateSubscription, and
// handleDeleteSubscription implement the webhook subscription CRUD SPEC_FULL
// adds under the append permission surface (§4.L presupposes subscriptions
// exist; this is where they come from).
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "key"), capresolve.Options{
		RequiredPermission: keys.PermissionAppend, HasRequirement: true,
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	if !s.checkRateLimit(w, r, bundle.ID, "read") {
		return
	}
	subs, err := s.store.ListWebhookSubscriptions(r.Context(), bundle.WorkspaceID)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "lookup failed"))
		return
	}
	envelope.OK(w, subs)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "key"), capresolve.Options{
		RequiredPermission: keys.PermissionAppend, HasRequirement: true,
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	if !s.checkRateLimit(w, r, bundle.ID, "append") {
		return
	}
	var body subscriptionBody
	if jerr := decodeJSON(r, &body); jerr != nil || body.URL == "" {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "url is required"))
		return
	}
	if _, reason := ssrf.Check(body.URL, ssrf.Policy{AllowHTTP: s.cfg.AllowHTTPWebhooks}, s.ssrfResolver); reason != ssrf.ReasonOK {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "webhook url rejected: "+string(reason)))
		return
	}
	secret, err := keys.Generate(32)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "secret generation failed"))
		return
	}
	created, err := s.store.CreateWebhookSubscription(r.Context(), store.WebhookSubscription{
		ID: uuid.NewString(), WorkspaceID: bundle.WorkspaceID, URL: body.URL,
		EventFilter: body.EventFilter, Secret: secret, FolderPath: body.FolderPath,
	})
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "subscription creation failed"))
		return
	}
	envelope.WriteStatus(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "key"), capresolve.Options{
		RequiredPermission: keys.PermissionAppend, HasRequirement: true,
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	if !s.checkRateLimit(w, r, bundle.ID, "append") {
		return
	}
	id := chi.URLParam(r, "subId")
	sub, gerr := s.store.GetWebhookSubscription(r.Context(), id)
	if gerr != nil || sub.WorkspaceID != bundle.WorkspaceID {
		envelope.Fail(w, apperr.New(apperr.WebhookNotFound, "subscription not found"))
		return
	}
	if err := s.store.DeleteWebhookSubscription(r.Context(), id); err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "delete failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createAppendBody struct {
	Author        string   `json:"author"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	Labels        []string `json:"labels"`
	Ref           string   `json:"ref"`
	Content       string   `json:"content"`
	ExpiresInSecs int      `json:"expiresInSeconds"`
}

func (s *Server) handleCreateAppend(w http.ResponseWriter, r *http.Request) {
	bundle, path, err := s.resolveKey(r, keys.PermissionAppend)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	if !s.checkRateLimit(w, r, bundle.ID, "append") {
		return
	}

	token := r.Header.Get("Idempotency-Key")
	if replay, found, rerr := idempotency.Lookup(r.Context(), s.store, token); rerr == nil && found {
		w.WriteHeader(replay.Status)
		_, _ = w.Write(replay.Body)
		return
	}

	var body createAppendBody
	if jerr := decodeJSON(r, &body); jerr != nil {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "malformed body"))
		return
	}

	f, err := s.store.GetFile(r.Context(), bundle.WorkspaceID, path)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.FileNotFound, "file not found"))
		return
	}

	created, err := s.appends.Append(r.Context(), appendengine.Input{
		WorkspaceID: bundle.WorkspaceID, FileID: f.ID, Author: body.Author,
		Type: body.Type, Status: body.Status, Priority: body.Priority,
		Labels: body.Labels, Ref: body.Ref, Content: body.Content,
		ExpiresInSecs: body.ExpiresInSecs,
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}

	s.auditQueue.Enqueue(store.AuditEntry{
		ID: uuid.NewString(), WorkspaceID: bundle.WorkspaceID, Action: "append." + created.Type,
		ResourceType: "append", ResourceID: created.PublicID, ResourcePath: f.Path,
		Actor: body.Author, ActorType: "capability_key", IP: s.clientIP(r), UserAgent: r.UserAgent(),
	})
	s.dispatcher.Dispatch(r.Context(), webhook.Event{Type: "append." + created.Type, WorkspaceID: bundle.WorkspaceID, Path: f.Path})

	_ = idempotency.Store(r.Context(), s.store, token, bundle.ID, http.StatusCreated, created)
	envelope.WriteStatus(w, http.StatusCreated, created)
}

func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	bundle, path, err := s.resolveKey(r, keys.PermissionWrite)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	if !s.checkRateLimit(w, r, bundle.ID, "write") {
		return
	}
	content, err := readBody(r)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "could not read body"))
		return
	}
	res, err := s.files.Put(r.Context(), fileengine.PutInput{
		WorkspaceID: bundle.WorkspaceID, Path: path, Content: content,
		IfMatch: r.Header.Get("If-Match"), Actor: bundle.ID, IP: s.clientIP(r), UserAgent: r.UserAgent(),
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	w.Header().Set("ETag", res.ETag)
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	envelope.WriteStatus(w, status, res.File)
}

// handleRenameFile implements PATCH /w/{key}/{path}: renames the file
// portion of the path, preserving its parent directory (spec §4.G).
func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	bundle, path, err := s.resolveKey(r, keys.PermissionWrite)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	var body struct {
		NewName string `json:"newName"`
	}
	if jerr := decodeJSON(r, &body); jerr != nil || body.NewName == "" {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "newName is required"))
		return
	}
	f, err := s.store.GetFile(r.Context(), bundle.WorkspaceID, path)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.FileNotFound, "file not found"))
		return
	}
	renamed, err := s.files.Rename(r.Context(), bundle.WorkspaceID, f.ID, body.NewName)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	envelope.OK(w, renamed)
}

// handleUpdateSettings implements the settings mutation spec §3 lists
// alongside update/rename/move, reached via POST rather than PATCH since
// PATCH is reserved for the rename operation.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	bundle, path, err := s.resolveKey(r, keys.PermissionWrite)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	var body map[string]any
	if jerr := decodeJSON(r, &body); jerr != nil {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "malformed body"))
		return
	}
	settings, merr := marshalJSON(body)
	if merr != nil {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "malformed settings"))
		return
	}
	f, err := s.store.GetFile(r.Context(), bundle.WorkspaceID, path)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.FileNotFound, "file not found"))
		return
	}
	if err := s.store.UpdateFileSettings(r.Context(), f.ID, settings); err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "settings update failed"))
		return
	}
	updated, err := s.store.GetFileByID(r.Context(), f.ID)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "lookup failed"))
		return
	}
	envelope.OK(w, updated)
}

// handleRecoverFile implements POST /w/{key}/recover: restores a
// soft-deleted file scoped to a single-file write key, optionally rotating
// the file's three capability keys in the same call (spec §4.G).
func (s *Server) handleRecoverFile(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "key"), capresolve.Options{
		RequiredPermission: keys.PermissionWrite, HasRequirement: true,
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	if bundle.ScopeType != "file" {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "recover requires a file-scoped key"))
		return
	}
	var body struct {
		Rotate bool `json:"rotate"`
	}
	_ = decodeJSON(r, &body)

	f, err := s.store.GetDeletedFile(r.Context(), bundle.WorkspaceID, bundle.ScopePath)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.FileNotFound, "deleted file not found"))
		return
	}
	restored, err := s.files.Recover(r.Context(), f.ID)
	if err != nil {
		envelope.Fail(w, err)
		return
	}

	resp := map[string]any{"file": restored}
	if body.Rotate {
		rotated, rerr := s.files.Rotate(r.Context(), bundle.WorkspaceID, restored.ID)
		if rerr != nil {
			envelope.Fail(w, rerr)
			return
		}
		resp["keys"] = rotated
	}
	envelope.OK(w, resp)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	bundle, path, err := s.resolveKey(r, keys.PermissionWrite)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	permanent := r.URL.Query().Get("permanent") == "true"
	res, err := s.files.Delete(r.Context(), fileengine.DeleteInput{
		WorkspaceID: bundle.WorkspaceID, Path: path, Permanent: permanent,
		Actor: bundle.ID, IP: s.clientIP(r), UserAgent: r.UserAgent(),
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	envelope.OK(w, res)
}

func (s *Server) handleMoveFile(w http.ResponseWriter, r *http.Request) {
	bundle, path, err := s.resolveKey(r, keys.PermissionWrite)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	var body struct {
		Destination string `json:"destination"`
	}
	if jerr := decodeJSON(r, &body); jerr != nil {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "malformed body"))
		return
	}
	dest, derr := pathsec.Validate(body.Destination)
	if derr != nil {
		envelope.Fail(w, derr)
		return
	}
	f, err := s.store.GetFile(r.Context(), bundle.WorkspaceID, path)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.FileNotFound, "file not found"))
		return
	}
	moved, err := s.files.Move(r.Context(), bundle.WorkspaceID, f.ID, dest)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	envelope.OK(w, moved)
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	bundle, path, err := s.resolveKey(r, keys.PermissionWrite)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	f, err := s.store.GetFile(r.Context(), bundle.WorkspaceID, path)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.FileNotFound, "file not found"))
		return
	}
	rotated, err := s.files.Rotate(r.Context(), bundle.WorkspaceID, f.ID)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	envelope.OK(w, rotated)
}

func (s *Server) handleClaimWorkspace(w http.ResponseWriter, r *http.Request) {
	plaintext := chi.URLParam(r, "key")
	bundle, err := s.resolver.Resolve(r.Context(), plaintext, capresolve.Options{
		RequiredPermission: keys.PermissionWrite, HasRequirement: true,
	})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	var body struct {
		Subject string `json:"subject"`
	}
	if jerr := decodeJSON(r, &body); jerr != nil || body.Subject == "" {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "subject is required"))
		return
	}
	if err := s.store.ClaimWorkspace(r.Context(), bundle.WorkspaceID, body.Subject); err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "claim failed"))
		return
	}
	token, err := s.sessions.Mint(body.Subject, bundle.WorkspaceID)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "session mint failed"))
		return
	}
	envelope.OK(w, map[string]string{"sessionToken": token})
}

type claimOp int

const (
	opRenew claimOp = iota
	opComplete
	opCancel
	opBlock
)

func (s *Server) ownerSession(r *http.Request) (*session.Claims, error) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return nil, apperr.New(apperr.Unauthorized, "missing bearer session token")
	}
	claims, err := s.sessions.Verify(strings.TrimPrefix(auth, prefix))
	if err != nil {
		return nil, apperr.New(apperr.Unauthorized, "invalid session token")
	}
	return claims, nil
}

func (s *Server) handleClaimOp(op claimOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.ownerSession(r)
		if err != nil {
			envelope.Fail(w, err)
			return
		}
		workspaceID := chi.URLParam(r, "id")
		if workspaceID != claims.WorkspaceID {
			envelope.Fail(w, apperr.New(apperr.Unauthorized, "session does not authorize this workspace"))
			return
		}
		claimID := chi.URLParam(r, "claimId")

		var body struct {
			FileID           string `json:"fileId"`
			TaskID           string `json:"taskId"`
			Reason           string `json:"reason"`
			Content          string `json:"content"`
			ExpiresInSeconds int    `json:"expiresInSeconds"`
		}
		_ = decodeJSON(r, &body)

		var result claimops.Result
		var opErr error
		switch op {
		case opRenew:
			result, opErr = s.claims.Renew(r.Context(), workspaceID, body.FileID, claimID, body.ExpiresInSeconds)
		case opComplete:
			result, opErr = s.claims.Complete(r.Context(), workspaceID, body.FileID, body.TaskID, claims.Subject, body.Content)
		case opCancel:
			result, opErr = s.claims.Cancel(r.Context(), workspaceID, body.FileID, claimID, claims.Subject, body.Reason)
		case opBlock:
			result, opErr = s.claims.Block(r.Context(), workspaceID, body.FileID, body.TaskID, claims.Subject, body.Reason)
		}
		if opErr != nil {
			envelope.Fail(w, opErr)
			return
		}
		envelope.OK(w, result)
	}
}

func (s *Server) bearerAPIKey(r *http.Request, scope string) (store.APIKey, error) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return store.APIKey{}, apperr.New(apperr.Unauthorized, "missing bearer api key")
	}
	return s.apiKeys.Validate(r.Context(), strings.TrimPrefix(auth, prefix), scope)
}

func (s *Server) handleAPISearch(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bearerAPIKey(r, "search")
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	q := r.URL.Query().Get("q")
	res, err := s.searchers.SearchFiles(r.Context(), rec.WorkspaceID, q, search.Scope{}, 100)
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	envelope.OK(w, res)
}

func (s *Server) handleAPIExport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bearerAPIKey(r, "export")
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	files, err := s.store.ListFilesByPrefix(r.Context(), rec.WorkspaceID, "/", "/", true, 10000)
	if err != nil {
		envelope.Fail(w, apperr.New(apperr.ServerError, "export failed"))
		return
	}
	envelope.OK(w, files)
}

func (s *Server) handleAPIMintKey(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bearerAPIKey(r, "*")
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	var body struct {
		Scopes []string `json:"scopes"`
		Live   bool     `json:"live"`
	}
	if jerr := decodeJSON(r, &body); jerr != nil {
		envelope.Fail(w, apperr.New(apperr.InvalidRequest, "malformed body"))
		return
	}
	res, err := s.apiKeys.Mint(r.Context(), apikeys.MintInput{WorkspaceID: rec.WorkspaceID, Scopes: body.Scopes, Live: body.Live})
	if err != nil {
		envelope.Fail(w, err)
		return
	}
	envelope.WriteStatus(w, http.StatusCreated, map[string]string{"key": res.Key, "id": res.APIKey.ID})
}

func (s *Server) handleAPIRevokeKey(w http.ResponseWriter, r *http.Request) {
	if _, err := s.bearerAPIKey(r, "*"); err != nil {
		envelope.Fail(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.apiKeys.Revoke(r.Context(), id); err != nil {
		envelope.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
