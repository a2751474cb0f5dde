package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Token minting for additional clients
			r.Post("/auth/token", s.handleCreateToken)

			// Entity states
			r.Route("/states", func(r chi.Router) {
				r.Get("/", s.handleListStates)
				r.Get("/stats", s.handleStateStats)
				r.Get("/{entityID}", s.handleGetState)
			})

			// Service calls
			r.Get("/services", s.handleListServices)
			r.Post("/services/{domain}/{service}", s.handleCallService)

			// Config entries and flows
			r.Route("/config", func(r chi.Router) {
				r.Route("/entries", func(r chi.Router) {
					r.Get("/", s.handleListEntries)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetEntry)
						r.Delete("/", s.handleDeleteEntry)
						r.Post("/reload", s.handleReloadEntry)
						r.Patch("/options", s.handleUpdateEntryOptions)
					})
				})

				r.Route("/flows", func(r chi.Router) {
					r.Post("/", s.handleStartFlow)
					r.Post("/{flowID}", s.handleStepFlow)
				})
			})

			// WebSocket event stream
			r.Get("/ws", s.handleWebSocket)
		})
	})

	// The websocket also answers on its configured path so clients
	// built for the conventional /api/websocket location work unchanged.
	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/api/websocket"
	}
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
