package router

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"papervault/internal/access"
	"papervault/internal/automate"
	"papervault/internal/document"
	"papervault/internal/kvstore"
	"papervault/internal/node"
	"papervault/internal/pageops"
	"papervault/internal/search"
	"papervault/internal/tag"
	"papervault/internal/user"
	"papervault/middleware"
	"papervault/socket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Handlers groups the REST handlers mounted under /api.
type Handlers struct {
	User     *user.UserHandler
	Node     *node.NodeHandler
	Document *document.DocumentHandler
	Page     *pageops.PageHandler
	Tag      *tag.TagHandler
	KV       *kvstore.KVHandler
	Access   *access.AccessHandler
	Automate *automate.AutomateHandler
	Search   *search.SearchHandler
}

type Options struct {
	Secret         string
	AllowedOrigins []string
}

func Setup(db *sql.DB, hub *socket.Hub, h Handlers, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORSMiddleware(opts.AllowedOrigins))

	auth := middleware.AuthMiddleware(opts.Secret)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready"}`))
	})

	// WebSocket
	r.With(auth).Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(middleware.UserIDKey).(string)
		socket.ServeWs(hub, w, r, userID)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.User.Register)
		r.Post("/auth/token", h.User.Token)

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Get("/users/me", h.User.Me)
			r.Delete("/users/{id}", h.User.Delete)
			r.Post("/users/{id}/permissions", h.User.GrantUserPermission)
			r.Post("/groups", h.User.CreateGroup)
			r.Post("/groups/{id}/members", h.User.AddMember)
			r.Post("/groups/{id}/permissions", h.User.GrantGroupPermission)

			r.Get("/folders", h.Node.ListFolder)
			r.Get("/folders/{id}", h.Node.ListFolder)
			r.Post("/folders", h.Node.CreateFolder)

			r.Post("/nodes/move", h.Node.Move)
			r.Post("/nodes/delete", h.Node.DeleteMany)
			r.Get("/nodes/download", h.Node.DownloadMany)
			r.Get("/nodes/by-title/{title}", h.Node.ByTitle)
			r.Route("/nodes/{id}", func(r chi.Router) {
				r.Get("/", h.Node.Get)
				r.Patch("/", h.Node.Update)
				r.Delete("/", h.Node.Delete)
				r.Get("/breadcrumb", h.Node.Breadcrumb)
				r.Get("/download", h.Node.Download)

				r.Post("/tags", h.Tag.Assign)
				r.Delete("/tags", h.Tag.Remove)

				r.Get("/kv", h.KV.List)
				r.Put("/kv", h.KV.Update)

				r.Get("/access", h.Access.List)
				r.Post("/access", h.Access.Grant)
				r.Delete("/access/{accessID}", h.Access.Revoke)
			})

			r.Put("/documents/upload/{filename}", h.Document.Upload)
			r.Route("/documents/{id}", func(r chi.Router) {
				r.Get("/", h.Document.Get)
				r.Get("/versions", h.Document.Versions)
				r.Get("/versions/{n}", h.Document.Version)
				r.Get("/versions/{n}/download", h.Node.DownloadVersion)
				r.Post("/ocr", h.Document.RunOCR)
				r.Post("/pages/delete", h.Page.Delete)
				r.Post("/pages/reorder", h.Page.Reorder)
				r.Post("/pages/rotate", h.Page.Rotate)
			})
			r.Post("/pages/move", h.Page.Move)

			r.Get("/tags", h.Tag.List)
			r.Post("/tags", h.Tag.Create)
			r.Delete("/tags/{id}", h.Tag.Delete)

			r.Get("/automates", h.Automate.List)
			r.Post("/automates", h.Automate.Create)
			r.Delete("/automates/{id}", h.Automate.Delete)

			r.Get("/search", h.Search.Search)
		})
	})

	return r
}
