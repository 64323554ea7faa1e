package document

import (
	"encoding/json"
	"net/http"
	"strconv"

	"papervault/internal/apperr"
	"papervault/internal/document/service"
	"papervault/middleware"
	"papervault/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type DocumentHandler struct {
	Service *service.DocumentService
}

func NewDocumentHandler(service *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{Service: service}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Upload takes the raw file as request body: PUT /documents/upload/{filename}?parent_id=
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	fileName := chi.URLParam(r, "filename")
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadSize)

	res, err := h.Service.Upload(r.Context(), userID, r.URL.Query().Get("parent_id"), fileName, r.Body)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to upload %q: %v", fileName, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)

	doc, err := h.Service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Versions(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)

	versions, err := h.Service.Versions(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *DocumentHandler) Version(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		http.Error(w, "Invalid version number", http.StatusBadRequest)
		return
	}

	v, err := h.Service.Version(r.Context(), userID, chi.URLParam(r, "id"), n)
	if err != nil {
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *DocumentHandler) RunOCR(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)
	docID := chi.URLParam(r, "id")

	if err := h.Service.RunOCR(r.Context(), userID, docID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to queue OCR of %s: %v", docID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}
