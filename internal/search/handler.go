package search

import (
	"encoding/json"
	"net/http"
	"strconv"

	"papervault/internal/apperr"
	"papervault/internal/search/service"
	"papervault/middleware"
	"papervault/pkg/logger"
)

type SearchHandler struct {
	Service *service.SearchService
}

func NewSearchHandler(service *service.SearchService) *SearchHandler {
	return &SearchHandler{Service: service}
}

// Search serves GET /api/search?q=&page=&per_page=&node_type=.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(string)

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	req := service.Request{Text: q.Get("q"), NodeType: q.Get("node_type"), Page: page, PerPage: perPage}

	res, err := h.Service.Search(r.Context(), userID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to search %q: %v", req.Text, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}
