package handler

import (
	"context"
	"log/slog"
	"net/http"

	models "studydesk/internal/domain/models/tree"
	treeSvc "studydesk/internal/domain/services/tree"
	"studydesk/internal/handler/sse"
	"studydesk/internal/httputil"
)

// Sessions hands out the tree controller for an owner
type Sessions interface {
	Get(ctx context.Context, ownerID string) (treeSvc.TreeController, error)
}

// TreeHandler handles HTTP requests for an owner's folder/document tree.
// Mutations wait for the gateway to confirm unless ?async=true, in which
// case they answer 202 with the optimistic result.
type TreeHandler struct {
	sessions Sessions
	sse      *sse.Config
	logger   *slog.Logger
}

// NewTreeHandler creates a new tree handler
func NewTreeHandler(sessions Sessions, sseConfig *sse.Config, logger *slog.Logger) *TreeHandler {
	if sseConfig == nil {
		sseConfig = sse.DefaultConfig()
	}
	return &TreeHandler{
		sessions: sessions,
		sse:      sseConfig,
		logger:   logger,
	}
}

// Register adds the tree routes to mux, each wrapped by wrap (the owner
// middleware in production)
func (h *TreeHandler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"GET /api/tree":          h.GetTree,
		"GET /api/tree/listing":  h.GetListing,
		"GET /api/tree/status":   h.GetStatus,
		"POST /api/tree/refresh": h.Refresh,
		"GET /api/tree/events":   h.StreamEvents,

		"POST /api/folders":   h.CreateFolder,
		"POST /api/documents": h.CreateDocument,

		"GET /api/items/{id}":              h.GetItem,
		"GET /api/items/{id}/path":         h.GetPath,
		"PATCH /api/items/{id}":            h.RenameItem,
		"DELETE /api/items/{id}":           h.DeleteItem,
		"POST /api/items/{id}/move":        h.MoveItem,
		"POST /api/items/{id}/move-before": h.MoveItemBefore,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, wrap(fn))
	}
}

// GetTree returns the nested tree
// GET /api/tree
func (h *TreeHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"status": ctrl.Status(),
		"tree":   ctrl.Tree(),
	})
}

// GetListing returns one folder's children in display order
// GET /api/tree/listing?parent_id=
func (h *TreeHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	items, err := ctrl.Listing(httputil.QueryOptional(r, "parent_id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []*models.Node{}
	}

	httputil.RespondJSON(w, http.StatusOK, items)
}

// GetStatus returns the loading flag and error slot
// GET /api/tree/status
func (h *TreeHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	httputil.RespondJSON(w, http.StatusOK, ctrl.Status())
}

// Refresh reloads the tree from persistence, e.g. after an external upload
// POST /api/tree/refresh
func (h *TreeHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	p := ctrl.Refresh(r.Context())
	h.settle(w, r, p, http.StatusOK, func() any { return ctrl.Status() })
}

// CreateFolder creates a folder at the end of its parent's children
// POST /api/folders
func (h *TreeHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req createFolderRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	node, p, err := ctrl.CreateFolder(r.Context(), req.Name, req.ParentID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.settle(w, r, p, http.StatusCreated, func() any { return confirmed(ctrl, p, node) })
}

// CreateDocument creates a document, inferring its kind from the name when absent
// POST /api/documents
func (h *TreeHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req createDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		handleError(w, h.logger, invalid(err))
		return
	}

	node, p, err := ctrl.CreateDocument(r.Context(), req.Name, req.ParentID, req.Kind)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.settle(w, r, p, http.StatusCreated, func() any { return confirmed(ctrl, p, node) })
}

// GetItem returns an item, with its subtree for folders
// GET /api/items/{id}
func (h *TreeHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	node, found := ctrl.FindItemByID(id)
	if !found {
		httputil.RespondProblem(w, http.StatusNotFound, "not_found", "item "+id+": not found")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, node)
}

// GetPath returns the breadcrumb from the root down to the item
// GET /api/items/{id}/path
func (h *TreeHandler) GetPath(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	path, err := ctrl.Path(r.PathValue("id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, path)
}

// RenameItem renames a folder or document
// PATCH /api/items/{id}
func (h *TreeHandler) RenameItem(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req renameRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	node, p, err := ctrl.RenameItem(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.settle(w, r, p, http.StatusOK, func() any { return confirmed(ctrl, p, node) })
}

// DeleteItem deletes an item; folders take their subtree with them
// DELETE /api/items/{id}
func (h *TreeHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	removed, p, err := ctrl.DeleteItem(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.settle(w, r, p, http.StatusOK, func() any { return deleteResponse{RemovedIDs: removed} })
}

// MoveItem moves an item to the end of another folder, or to the root
// POST /api/items/{id}/move
func (h *TreeHandler) MoveItem(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req moveRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		handleError(w, h.logger, invalid(err))
		return
	}

	node, p, err := ctrl.MoveItem(r.Context(), r.PathValue("id"), req.ParentID.Value)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.settle(w, r, p, http.StatusOK, func() any { return confirmed(ctrl, p, node) })
}

// MoveItemBefore places an item immediately before a sibling-to-be
// POST /api/items/{id}/move-before
func (h *TreeHandler) MoveItemBefore(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req moveBeforeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		handleError(w, h.logger, invalid(err))
		return
	}

	id := r.PathValue("id")
	p, err := ctrl.MoveItemBefore(r.Context(), id, req.BeforeID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.settle(w, r, p, http.StatusOK, func() any {
		node, _ := ctrl.FindItemByID(p.ID())
		return node
	})
}

// controller resolves the request owner's session, writing the error response on failure
func (h *TreeHandler) controller(w http.ResponseWriter, r *http.Request) (treeSvc.TreeController, bool) {
	ctrl, err := h.sessions.Get(r.Context(), httputil.GetOwnerID(r))
	if err != nil {
		handleError(w, h.logger, err)
		return nil, false
	}
	return ctrl, true
}

// settle answers 202 straight away for async requests; otherwise it waits
// for p and answers status with body(), or the failure
func (h *TreeHandler) settle(w http.ResponseWriter, r *http.Request, p *treeSvc.Pending, status int, body func() any) {
	if httputil.QueryBool(r, "async") {
		httputil.RespondJSON(w, http.StatusAccepted, body())
		return
	}
	if err := p.Wait(r.Context()); err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, status, body())
}

// confirmed returns the current view of an item after its change settled,
// falling back to the optimistic snapshot when a refresh has since dropped it
func confirmed(ctrl treeSvc.TreeController, p *treeSvc.Pending, optimistic *models.Node) *models.Node {
	if node, ok := ctrl.FindItemByID(p.ID()); ok {
		return node
	}
	fallback := *optimistic
	fallback.ID = p.ID()
	return &fallback
}
