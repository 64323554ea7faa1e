package user

import (
	"encoding/json"
	"net/http"

	"papervault/internal/apperr"
	"papervault/internal/user/model"
	"papervault/internal/user/service"
	"papervault/middleware"
	"papervault/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type UserHandler struct {
	Service *service.UserService
}

func NewUserHandler(service *service.UserService) *UserHandler {
	return &UserHandler{Service: service}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.Service.Register(r.Context(), req, false)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to register user: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req model.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tok, err := h.Service.Login(r.Context(), req)
	if err != nil {
		logger.Sugar.Infof("Handler: Login failed for %q: %v", req.Username, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)

	user, err := h.Service.Get(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	perms, err := h.Service.PermCodenames(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user, "perms": perms})
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete user: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req model.CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	g, err := h.Service.CreateGroup(r.Context(), userID, req.Name)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create group: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *UserHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req model.MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.AddToGroup(r.Context(), userID, req.UserID, chi.URLParam(r, "id")); err != nil {
		logger.Sugar.Errorf("Handler: Failed to add group member: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) GrantUserPermission(w http.ResponseWriter, r *http.Request) {
	var req model.PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.GrantPermission(r.Context(), userID, chi.URLParam(r, "id"), req.Codename); err != nil {
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) GrantGroupPermission(w http.ResponseWriter, r *http.Request) {
	var req model.PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.GrantGroupPermission(r.Context(), userID, chi.URLParam(r, "id"), req.Codename); err != nil {
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
