package access

import (
	"encoding/json"
	"net/http"

	"papervault/internal/access/model"
	"papervault/internal/access/service"
	"papervault/internal/apperr"
	"papervault/middleware"
	"papervault/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type AccessHandler struct {
	Service *service.AccessService
}

func NewAccessHandler(service *service.AccessService) *AccessHandler {
	return &AccessHandler{Service: service}
}

func (h *AccessHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	entries, err := h.Service.List(r.Context(), userID, nodeID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list access of node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *AccessHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req model.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	entry, err := h.Service.Grant(r.Context(), userID, nodeID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to grant access on node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

func (h *AccessHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")
	entryID := chi.URLParam(r, "accessID")

	if err := h.Service.Revoke(r.Context(), userID, nodeID, entryID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to revoke access %s: %v", entryID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
