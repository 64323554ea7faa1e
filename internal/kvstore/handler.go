package kvstore

import (
	"encoding/json"
	"net/http"

	"papervault/internal/apperr"
	"papervault/internal/kvstore/service"
	"papervault/middleware"
	"papervault/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type KVHandler struct {
	Service *service.KVService
}

func NewKVHandler(service *service.KVService) *KVHandler {
	return &KVHandler{Service: service}
}

func (h *KVHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	items, err := h.Service.List(r.Context(), userID, nodeID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list kv of node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

// Update accepts either a bare list or {"kvstore": [...]}.
func (h *KVHandler) Update(w http.ResponseWriter, r *http.Request) {
	var body interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if obj, ok := body.(map[string]interface{}); ok {
		if kv, ok := obj["kvstore"]; ok {
			body = kv
		}
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)
	nodeID := chi.URLParam(r, "id")

	items, err := h.Service.Update(r.Context(), userID, nodeID, body)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to update kv of node %s: %v", nodeID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}
