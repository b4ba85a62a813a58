package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new Chi router with all routes configured
func NewRouter(mirrors *MirrorHandler) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(mirrors.log))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/mirrors", func(r chi.Router) {
		r.Get("/countries", mirrors.Countries)
		r.Get("/defaults", mirrors.Defaults)
		r.Get("/state", mirrors.State)
		r.Get("/result", mirrors.LastResult)
		r.Post("/update", mirrors.Update)
		r.Post("/cancel", mirrors.Cancel)
		r.Get("/logs", mirrors.Logs)
		r.Delete("/logs", mirrors.ClearLogs)
		r.Get("/logs/stream", mirrors.StreamLogs)
		r.Get("/ws", mirrors.WebSocket)
	})

	return r
}
