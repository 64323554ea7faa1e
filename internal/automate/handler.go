package automate

import (
	"encoding/json"
	"net/http"

	"papervault/internal/apperr"
	"papervault/internal/automate/model"
	"papervault/internal/automate/service"
	"papervault/middleware"
	"papervault/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type AutomateHandler struct {
	Service *service.AutomateService
}

func NewAutomateHandler(service *service.AutomateService) *AutomateHandler {
	return &AutomateHandler{Service: service}
}

func (h *AutomateHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)

	automates, err := h.Service.List(r.Context(), userID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list automates: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(automates)
}

func (h *AutomateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	a, err := h.Service.Create(r.Context(), userID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create automate: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a)
}

func (h *AutomateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	id := chi.URLParam(r, "id")

	if err := h.Service.Delete(r.Context(), userID, id); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete automate %s: %v", id, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
