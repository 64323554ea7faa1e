package tag

import (
	"encoding/json"
	"net/http"

	"papervault/internal/apperr"
	"papervault/internal/tag/model"
	"papervault/internal/tag/service"
	"papervault/middleware"
	"papervault/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type TagHandler struct {
	Service *service.TagService
}

func NewTagHandler(service *service.TagService) *TagHandler {
	return &TagHandler{Service: service}
}

func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)

	tags, err := h.Service.List(r.Context(), userID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list tags: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tags)
}

func (h *TagHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	tag, err := h.Service.Create(r.Context(), userID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create tag: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tag)
}

func (h *TagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	tagID := chi.URLParam(r, "id")

	if err := h.Service.Delete(r.Context(), userID, tagID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete tag %s: %v", tagID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TagHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req model.AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	if err := h.Service.Assign(r.Context(), userID, nodeID, req.Tags); err != nil {
		logger.Sugar.Errorf("Handler: Failed to tag node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *TagHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req model.AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	if err := h.Service.Remove(r.Context(), userID, nodeID, req.Tags); err != nil {
		logger.Sugar.Errorf("Handler: Failed to untag node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
