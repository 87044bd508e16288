package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"finboard-backend/internal/handlers"
	"finboard-backend/internal/hub"
	"finboard-backend/internal/middleware"
)

func New(
	jwtAuth *middleware.JWTAuth,
	dashboardHandler *handlers.DashboardHandler,
	collabHub *hub.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Dashboard Routes ────
		r.Route("/dashboards", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", dashboardHandler.List)
			r.Post("/", dashboardHandler.Create)
			r.Get("/{id}", dashboardHandler.Get)
			r.Put("/{id}", dashboardHandler.Update)
			r.Delete("/{id}", dashboardHandler.Delete)
		})

		// ──── Collaboration WebSocket ────
		r.Get("/ws", collabHub.HandleWebSocket)
	})

	return r
}
