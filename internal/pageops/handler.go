package pageops

import (
	"encoding/json"
	"net/http"

	"papervault/internal/apperr"
	"papervault/internal/pageops/model"
	"papervault/internal/pageops/service"
	"papervault/middleware"
	"papervault/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type PageHandler struct {
	Service *service.PageService
}

func NewPageHandler(service *service.PageService) *PageHandler {
	return &PageHandler{Service: service}
}

func respond(w http.ResponseWriter, v interface{}, err error, action string) {
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to %s: %v", action, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *PageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	res, err := h.Service.DeletePages(r.Context(), userID, chi.URLParam(r, "id"), req.Pages)
	respond(w, res, err, "delete pages")
}

func (h *PageHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req model.ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	res, err := h.Service.ReorderPages(r.Context(), userID, chi.URLParam(r, "id"), req.Pages)
	respond(w, res, err, "reorder pages")
}

func (h *PageHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	var req model.RotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	res, err := h.Service.RotatePages(r.Context(), userID, chi.URLParam(r, "id"), req.Pages)
	respond(w, res, err, "rotate pages")
}

func (h *PageHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req model.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	res, err := h.Service.MovePages(r.Context(), userID, req)
	respond(w, res, err, "move pages")
}
