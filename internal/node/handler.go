package node

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"papervault/internal/apperr"
	"papervault/internal/node/model"
	"papervault/internal/node/service"
	"papervault/middleware"
	"papervault/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type NodeHandler struct {
	Service *service.NodeService
}

func NewNodeHandler(service *service.NodeService) *NodeHandler {
	return &NodeHandler{Service: service}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListFolder serves GET /api/folders and /api/folders/{id}.
func (h *NodeHandler) ListFolder(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	parentID := chi.URLParam(r, "id")

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	opts := model.ListOptions{OrderBy: q.Get("order-by"), Tag: q.Get("tag"), Page: page}

	resp, err := h.Service.List(r.Context(), userID, parentID, opts)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list folder %q: %v", parentID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NodeHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req model.CreateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	node, err := h.Service.CreateFolder(r.Context(), userID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create folder: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *NodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	node, err := h.Service.Get(r.Context(), userID, nodeID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to get node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"node": node})
}

func (h *NodeHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	node, err := h.Service.Update(r.Context(), userID, nodeID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to update node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"node": node})
}

func (h *NodeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	if err := h.Service.Delete(r.Context(), userID, []string{nodeID}); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *NodeHandler) DeleteMany(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.Delete(r.Context(), userID, req.NodeIDs); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete nodes %v: %v", req.NodeIDs, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *NodeHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req model.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.Move(r.Context(), userID, req); err != nil {
		logger.Sugar.Errorf("Handler: Failed to move nodes %v: %v", req.NodeIDs, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *NodeHandler) Breadcrumb(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	resp, err := h.Service.Breadcrumb(r.Context(), userID, nodeID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to build breadcrumb of %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NodeHandler) ByTitle(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	title := chi.URLParam(r, "title")

	resp, err := h.Service.ByTitle(r.Context(), userID, title)
	if err != nil {
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NodeHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")
	version, _ := strconv.Atoi(r.URL.Query().Get("version"))

	dl, err := h.Service.Download(r.Context(), userID, nodeID, version)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to download node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	serveDownload(w, dl)
}

// DownloadVersion serves /documents/{id}/versions/{n}/download.
func (h *NodeHandler) DownloadVersion(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")
	version, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || version < 1 {
		http.Error(w, "Invalid version number", http.StatusBadRequest)
		return
	}

	dl, err := h.Service.Download(r.Context(), userID, nodeID, version)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to download version %d of %s: %v", version, nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	serveDownload(w, dl)
}

func (h *NodeHandler) DownloadMany(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	ids := r.URL.Query()["node_ids[]"]

	dl, err := h.Service.DownloadMany(r.Context(), userID, ids)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to download nodes %v: %v", ids, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	serveDownload(w, dl)
}

func serveDownload(w http.ResponseWriter, dl *service.Download) {
	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Name))
	if err := dl.WriteTo(w); err != nil {
		logger.Sugar.Errorf("Handler: Failed to stream %s: %v", dl.Name, err)
	}
}
