package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/courseloom/amvc/internal/models"
	"github.com/courseloom/amvc/internal/store"
	"github.com/courseloom/amvc/internal/vcs"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody int64  // bytes, for JSON endpoints
	AdminToken     string // for token management endpoints
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody: 8 * 1024 * 1024, // 8MB
	}
}

// Handler creates the HTTP handler with all routes and middleware.
func Handler(st store.Store, tokens TokenStore, cfg *ServerConfig, logger *slog.Logger) http.Handler {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	auth := authMiddleware(tokens, logger)
	withAuth := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth)
	}
	withAuthWrite := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, requireWrite, auth)
	}

	api := &apiHandler{store: st, cfg: cfg, logger: logger}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.View(r.Context(), func(tx store.Tx) error { return nil }); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Token administration
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/tokens", makeAdminCreateTokenHandler(tokens, logger))
		adminMux.HandleFunc("GET /admin/tokens", makeAdminListTokensHandler(tokens, logger))
		adminMux.HandleFunc("DELETE /admin/tokens/{id}", makeAdminDeleteTokenHandler(tokens, logger))
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	// Modules
	mux.Handle("POST /api/v1/modules", withAuthWrite(api.handleCreateModule))
	mux.Handle("GET /api/v1/modules", withAuth(api.handleSearchModules))
	mux.Handle("GET /api/v1/modules/{slug}", withAuth(api.handleGetModule))
	mux.Handle("PATCH /api/v1/modules/{slug}", withAuthWrite(api.handleUpdateModule))
	mux.Handle("DELETE /api/v1/modules/{slug}", withAuthWrite(api.handleDeleteModule))
	mux.Handle("POST /api/v1/modules/{slug}/fork", withAuthWrite(api.handleForkModule))
	mux.Handle("GET /api/v1/modules/{slug}/merge-requests", withAuth(api.handleListModuleMergeRequests))

	// Branches (scoped to a lineage)
	mux.Handle("GET /api/v1/lineages/{origin}/branches", withAuth(api.handleListBranches))
	mux.Handle("POST /api/v1/lineages/{origin}/branches", withAuthWrite(api.handleCreateBranch))
	mux.Handle("DELETE /api/v1/lineages/{origin}/branches/{name}", withAuthWrite(api.handleDeleteBranch))
	mux.Handle("POST /api/v1/lineages/{origin}/merge", withAuthWrite(api.handleMergeBranches))

	// Merge requests
	mux.Handle("POST /api/v1/merge-requests", withAuthWrite(api.handleCreateMergeRequest))
	mux.Handle("GET /api/v1/merge-requests/{id}", withAuth(api.handleGetMergeRequest))
	mux.Handle("DELETE /api/v1/merge-requests/{id}", withAuthWrite(api.handleDeleteMergeRequest))
	mux.Handle("POST /api/v1/merge-requests/{id}/comments", withAuthWrite(api.handleCommentMergeRequest))
	mux.Handle("GET /api/v1/merge-requests/{id}/comments", withAuth(api.handleListComments))
	mux.Handle("POST /api/v1/merge-requests/{id}/accept", withAuthWrite(api.handleAcceptMergeRequest))
	mux.Handle("POST /api/v1/merge-requests/{id}/reject", withAuthWrite(api.handleRejectMergeRequest))
	mux.Handle("POST /api/v1/merge-requests/{id}/close", withAuthWrite(api.handleCloseMergeRequest))

	return applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
	)
}

type apiHandler struct {
	store  store.Store
	cfg    *ServerConfig
	logger *slog.Logger
}

// decodeJSON reads a bounded JSON request body into v.
func (a *apiHandler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, a.cfg.MaxRequestBody)
	defer io.Copy(io.Discard, body)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// actorID extracts the acting user id from the X-Actor-ID header. The core
// never authenticates; it only records who acted.
func actorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-Actor-ID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "X-Actor-ID header is required"})
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "invalid " + name})
		return 0, false
	}
	return id, true
}

func pageFromQuery(r *http.Request) store.Page {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return store.Page{Limit: limit, Offset: offset}
}

func (a *apiHandler) handleCreateModule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req struct {
		Slug        string          `json:"slug"`
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Type        string          `json:"type"`
		Status      string          `json:"status"`
		Content     json.RawMessage `json:"content"`
		Message     string          `json:"message"`
	}
	if !a.decodeJSON(w, r, &req) {
		return
	}

	rev, err := vcs.CreateModule(r.Context(), a.store, vcs.CreateModuleArgs{
		Slug:        req.Slug,
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Status:      req.Status,
		Content:     req.Content,
		Message:     req.Message,
		ActorID:     actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

func (a *apiHandler) handleSearchModules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	createdBy, _ := strconv.ParseInt(q.Get("created_by"), 10, 64)
	listings, total, err := vcs.SearchModules(r.Context(), a.store, vcs.SearchFilter{
		TitleContains: q.Get("title"),
		Type:          q.Get("type"),
		Status:        q.Get("status"),
		CreatedBy:     createdBy,
	}, q.Get("branch"), pageFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "modules": listings})
}

func (a *apiHandler) handleGetModule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snap, err := vcs.GetModule(r.Context(), a.store,
		vcs.ModuleRef{Slug: r.PathValue("slug")}, q.Get("branch"), q.Get("commit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *apiHandler) handleUpdateModule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req struct {
		Branch      string          `json:"branch"`
		Title       *string         `json:"title"`
		Description *string         `json:"description"`
		Status      *string         `json:"status"`
		Content     json.RawMessage `json:"content"`
		Message     string          `json:"message"`
	}
	if !a.decodeJSON(w, r, &req) {
		return
	}

	rev, err := vcs.UpdateModule(r.Context(), a.store, r.PathValue("slug"), vcs.UpdateModuleArgs{
		Branch:      req.Branch,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Content:     req.Content,
		Message:     req.Message,
		ActorID:     actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (a *apiHandler) handleDeleteModule(w http.ResponseWriter, r *http.Request) {
	module, err := vcs.DeleteModule(r.Context(), a.store, r.PathValue("slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, module)
}

func (a *apiHandler) handleForkModule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req struct {
		Slug   string `json:"slug"`
		Title  string `json:"title"`
		Branch string `json:"branch"`
	}
	if !a.decodeJSON(w, r, &req) {
		return
	}

	rev, err := vcs.ForkModule(r.Context(), a.store, r.PathValue("slug"), vcs.ForkModuleArgs{
		Slug:    req.Slug,
		Title:   req.Title,
		Branch:  req.Branch,
		ActorID: actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

func (a *apiHandler) handleListModuleMergeRequests(w http.ResponseWriter, r *http.Request) {
	snap, err := vcs.GetModule(r.Context(), a.store, vcs.ModuleRef{Slug: r.PathValue("slug")}, "", "")
	if err != nil {
		writeError(w, err)
		return
	}
	status := models.MergeRequestStatus(r.URL.Query().Get("status"))
	requests, err := vcs.ListMergeRequestsByModule(r.Context(), a.store, snap.Module.ID, status, pageFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"merge_requests": requests})
}

func (a *apiHandler) handleListBranches(w http.ResponseWriter, r *http.Request) {
	origin, ok := pathID(w, r, "origin")
	if !ok {
		return
	}
	branches, err := vcs.ListBranches(r.Context(), a.store, origin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (a *apiHandler) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	origin, ok := pathID(w, r, "origin")
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		From        string `json:"from"`
		Description string `json:"description"`
	}
	if !a.decodeJSON(w, r, &req) {
		return
	}

	result, err := vcs.CreateBranch(r.Context(), a.store, origin, req.Name, req.From, actor, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *apiHandler) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	origin, ok := pathID(w, r, "origin")
	if !ok {
		return
	}
	branch, err := vcs.DeleteBranch(r.Context(), a.store, origin, r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branch)
}

func (a *apiHandler) handleMergeBranches(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	origin, ok := pathID(w, r, "origin")
	if !ok {
		return
	}
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if !a.decodeJSON(w, r, &req) {
		return
	}

	result, err := vcs.MergeBranches(r.Context(), a.store, origin, req.From, req.To, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *apiHandler) handleCreateMergeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		FromModuleID int64  `json:"from_module_id"`
		ToModuleID   int64  `json:"to_module_id"`
	}
	if !a.decodeJSON(w, r, &req) {
		return
	}

	mr, err := vcs.CreateMergeRequest(r.Context(), a.store, vcs.CreateMergeRequestArgs{
		Title:        req.Title,
		Description:  req.Description,
		FromModuleID: req.FromModuleID,
		ToModuleID:   req.ToModuleID,
		ActorID:      actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mr)
}

func (a *apiHandler) handleGetMergeRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	mr, err := vcs.GetMergeRequest(r.Context(), a.store, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

func (a *apiHandler) handleDeleteMergeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	mr, err := vcs.DeleteMergeRequest(r.Context(), a.store, id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

func (a *apiHandler) handleCommentMergeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if !a.decodeJSON(w, r, &req) {
		return
	}

	comment, err := vcs.CommentMergeRequest(r.Context(), a.store, id, req.Body, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (a *apiHandler) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	comments, err := vcs.ListMergeRequestComments(r.Context(), a.store, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (a *apiHandler) handleAcceptMergeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Reason          string          `json:"reason"`
		ResolvedContent json.RawMessage `json:"resolved_content"`
	}
	if !a.decodeJSON(w, r, &req) {
		return
	}

	result, err := vcs.AcceptMergeRequest(r.Context(), a.store, id, actor, req.Reason, req.ResolvedContent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *apiHandler) handleRejectMergeRequest(w http.ResponseWriter, r *http.Request) {
	a.handleTransition(w, r, vcs.RejectMergeRequest)
}

func (a *apiHandler) handleCloseMergeRequest(w http.ResponseWriter, r *http.Request) {
	a.handleTransition(w, r, vcs.CloseMergeRequest)
}

type transitionFunc func(ctx context.Context, st store.Store, id, actorID int64, reason string, stopComments bool) (*models.MergeRequest, error)

func (a *apiHandler) handleTransition(w http.ResponseWriter, r *http.Request, transition transitionFunc) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Reason       string `json:"reason"`
		StopComments bool   `json:"stop_comments"`
	}
	if !a.decodeJSON(w, r, &req) {
		return
	}

	mr, err := transition(r.Context(), a.store, id, actor, req.Reason, req.StopComments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, vcs.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, vcs.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, vcs.ErrDuplicateSlug),
		errors.Is(err, vcs.ErrDuplicateBranch),
		errors.Is(err, vcs.ErrDuplicateRequest):
		status, code = http.StatusConflict, "duplicate"
	case errors.Is(err, vcs.ErrInvalidOperation):
		status, code = http.StatusConflict, "invalid_operation"
	case errors.Is(err, vcs.ErrCommentsDisabled):
		status, code = http.StatusForbidden, "comments_disabled"
	case errors.Is(err, vcs.ErrConflictResolutionRequired):
		status, code = http.StatusConflict, "conflict_resolution_required"
	}
	writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}

// adminAuth guards the admin mux with a static bearer token.
func adminAuth(adminToken string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+adminToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":   "auth_failed",
				"message": "invalid admin token",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func makeAdminCreateTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Description string `json:"description"`
			Permission  string `json:"permission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
			return
		}
		if req.Permission == "" {
			req.Permission = "ro"
		}

		raw, info, err := tokens.CreateToken(req.Description, req.Permission)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
			return
		}
		logger.Info("token created", "token_id", info.ID, "permission", info.Permission)
		writeJSON(w, http.StatusCreated, map[string]any{"token": raw, "info": info})
	}
}

func makeAdminListTokensHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := tokens.ListTokens()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tokens": list})
	}
}

func makeAdminDeleteTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := tokens.DeleteToken(id); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": err.Error()})
			return
		}
		logger.Info("token deleted", "token_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
