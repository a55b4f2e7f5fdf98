package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teesha-ghevariya/to-do/application/services"
	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
	"github.com/teesha-ghevariya/to-do/pkg/utils"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 8 << 20
)

// NodeHandler handles node-related HTTP requests
type NodeHandler struct {
	service    *services.NodeService
	errHandler *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(
	service *services.NodeService,
	errHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *NodeHandler {
	return &NodeHandler{
		service:    service,
		errHandler: errHandler,
		logger:     logger,
	}
}

// ListRoots handles GET /api/nodes
func (h *NodeHandler) ListRoots(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.service.ListRoots(r.Context())
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, nodes)
}

// GetNode handles GET /api/nodes/{nodeID}
func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}
	node, err := h.service.GetNode(r.Context(), id)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, node)
}

// ListChildren handles GET /api/nodes/{nodeID}/children
func (h *NodeHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}
	nodes, err := h.service.ListChildren(r.Context(), id)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, nodes)
}

// CreateNode handles POST /api/nodes
func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	node, err := h.service.CreateNode(r.Context(), in)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, node)
}

// UpdateNode handles PUT /api/nodes/{nodeID}
func (h *NodeHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}
	var req UpdateNodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	node, err := h.service.UpdateNode(r.Context(), id, services.UpdateNodeInput{
		Content:  req.Content,
		Position: req.Position,
	})
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, node)
}

// DeleteNode handles DELETE /api/nodes/{nodeID}
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}
	count, err := h.service.DeleteNode(r.Context(), id)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, DeleteNodeResponse{ID: id.String(), DeletedCount: count})
}

// MoveNode handles PUT /api/nodes/{nodeID}/move?parentId=&position=. A
// missing, negative or too large position appends.
func (h *NodeHandler) MoveNode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	parentID, err := valueobjects.ParseOptionalNodeID(query.Get("parentId"))
	if err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewValidationError("parentId: "+err.Error()))
		return
	}

	var position *int
	if raw := query.Get("position"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			h.errHandler.Handle(w, r, pkgerrors.NewValidationError("position must be an integer"))
			return
		}
		position = &p
	}

	node, err := h.service.MoveNode(r.Context(), id, parentID, position)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, node)
}

// ToggleComplete handles PATCH /api/nodes/{nodeID}/complete
func (h *NodeHandler) ToggleComplete(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.ToggleComplete)
}

// ToggleExpand handles PATCH /api/nodes/{nodeID}/expand
func (h *NodeHandler) ToggleExpand(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.ToggleExpand)
}

// ToggleStar handles PATCH /api/nodes/{nodeID}/star
func (h *NodeHandler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.ToggleStar)
}

// UpdateNotes handles PATCH /api/nodes/{nodeID}/notes. The body is either
// {"notes": "..."} or the notes as plain text.
func (h *NodeHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}

	notes := string(body)
	if isJSON(r) {
		var req NotesRequest
		if err := json.Unmarshal(body, &req); err != nil {
			h.errHandler.Handle(w, r, pkgerrors.NewValidationError("Invalid request body: "+err.Error()))
			return
		}
		notes = req.Notes
	}

	node, err := h.service.UpdateNotes(r.Context(), id, notes)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, node)
}

// AddTag handles POST /api/nodes/{nodeID}/tags
func (h *NodeHandler) AddTag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}
	var req TagRequest
	if !h.decode(w, r, &req) {
		return
	}

	node, err := h.service.AddTag(r.Context(), id, req.Tag)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, node)
}

// RemoveTag handles DELETE /api/nodes/{nodeID}/tags/{tag}
func (h *NodeHandler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}

	tag, err := url.PathUnescape(chi.URLParam(r, "tag"))
	if err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewValidationError("invalid tag in path"))
		return
	}

	node, err := h.service.RemoveTag(r.Context(), id, tag)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, node)
}

// BatchUpdate handles POST /api/nodes/batch
func (h *NodeHandler) BatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req []BatchItemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}

	items := make([]services.BatchItem, 0, len(req))
	for i, raw := range req {
		if err := utils.ValidateStruct(raw); err != nil {
			h.errHandler.Handle(w, r, pkgerrors.Wrapf(err, "item %d", i))
			return
		}
		item, err := raw.toItem()
		if err != nil {
			h.errHandler.Handle(w, r, err)
			return
		}
		items = append(items, item)
	}

	nodes, err := h.service.BatchUpdate(r.Context(), items)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, nodes)
}

// Search handles GET /api/nodes/search?q=&tag=&completed=
func (h *NodeHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	criteria := services.SearchCriteria{
		Query: query.Get("q"),
		Tag:   query.Get("tag"),
	}
	if raw := query.Get("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			h.errHandler.Handle(w, r, pkgerrors.NewValidationError("completed must be true or false"))
			return
		}
		criteria.Completed = &completed
	}

	nodes, err := h.service.Search(r.Context(), criteria)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, nodes)
}

// ListStarred handles GET /api/nodes/starred
func (h *NodeHandler) ListStarred(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.service.ListStarred(r.Context())
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, nodes)
}

// Export handles GET /api/nodes/export?format=json|markdown|text
func (h *NodeHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "markdown" && format != "text" {
		h.errHandler.Handle(w, r, pkgerrors.NewValidationError("format must be one of: json markdown text"))
		return
	}

	doc, err := h.service.ExportDocument(r.Context())
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	stamp := doc.ExportDate.Format("2006-01-02")
	switch format {
	case "markdown":
		h.respondAttachment(w, "text/markdown; charset=utf-8", "outline-"+stamp+".md",
			services.RenderMarkdown(doc.Nodes, doc.ExportDate))
	case "text":
		h.respondAttachment(w, "text/plain; charset=utf-8", "outline-"+stamp+".txt",
			services.RenderText(doc.Nodes, doc.ExportDate))
	default:
		h.respondJSON(w, http.StatusOK, doc)
	}
}

// Import handles POST /api/nodes/import?parentId=. A JSON body is either the
// export envelope or a bare array of nodes; a text/markdown or text/plain
// body is read as a Markdown task list.
func (h *NodeHandler) Import(w http.ResponseWriter, r *http.Request) {
	parentID, err := valueobjects.ParseOptionalNodeID(r.URL.Query().Get("parentId"))
	if err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewValidationError("parentId: "+err.Error()))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}

	items, err := parseImport(r, body)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	nodes, err := h.service.ImportTree(r.Context(), parentID, items)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, nodes)
}

func parseImport(r *http.Request, body []byte) ([]services.ImportNode, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/markdown" || mediaType == "text/plain" {
		return services.ParseMarkdownOutline(string(body))
	}

	var req ImportRequest
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &req.Nodes); err != nil {
			return nil, pkgerrors.NewValidationError("Invalid request body: " + err.Error())
		}
	} else if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, pkgerrors.NewValidationError("Invalid request body: " + err.Error())
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	return req.Nodes, nil
}

// Helper methods

func (h *NodeHandler) toggle(w http.ResponseWriter, r *http.Request, fn func(context.Context, valueobjects.NodeID) (*entities.Node, error)) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}
	node, err := fn(r.Context(), id)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, node)
}

func (h *NodeHandler) nodeID(w http.ResponseWriter, r *http.Request) (valueobjects.NodeID, bool) {
	raw := chi.URLParam(r, "nodeID")
	id, err := valueobjects.NewNodeIDFromString(raw)
	if err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewValidationError(fmt.Sprintf("invalid node id %q: %v", raw, err)))
		return valueobjects.NodeID{}, false
	}
	return id, true
}

// decode reads a JSON body into dst and validates it
func (h *NodeHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewValidationError("Invalid request body: "+err.Error()))
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		h.errHandler.Handle(w, r, err)
		return false
	}
	return true
}

func (h *NodeHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *NodeHandler) respondAttachment(w http.ResponseWriter, contentType, filename, body string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, body); err != nil {
		h.logger.Error("Failed to write export", zap.Error(err))
	}
}

func isJSON(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json"
}
