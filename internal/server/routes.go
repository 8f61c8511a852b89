package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(ChainMiddleware(
		middleware.RequestID,
		RequestIDHeader,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", "NOT_FOUND")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})

	r.Get("/health", h.Health)

	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.DeleteSession)
		r.Put("/tab", h.SwitchTab)

		r.Route("/photo", func(r chi.Router) {
			r.Get("/", h.GetPhoto)
			r.Post("/image", h.UploadImage)
			r.Put("/filters", h.SetFilters)
			r.Post("/layers", h.AddText)
			r.Delete("/layers", h.ClearText)
			r.Put("/selection", h.SelectLayer)
			r.Post("/click", h.Click)
			r.Post("/fit", h.Fit)
			r.Post("/reset", h.ResetPhoto)
			r.Get("/canvas", h.Canvas)
			r.Post("/export", h.ExportPhoto)
		})

		r.Route("/video", func(r chi.Router) {
			r.Get("/", h.GetVideo)
			r.Post("/engine", h.LoadEngine)
			r.Post("/file", h.UploadVideo)
			r.Post("/trim", h.Trim)
			r.Get("/jobs", h.ListJobs)
			r.Get("/jobs/{jobID}", h.GetJob)
			r.Get("/jobs/{jobID}/download", h.DownloadJob)
		})
	})

	return r
}
