package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.corsMiddleware())
	r.Use(s.requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/available", s.handleAvailableDevices)
			r.Get("/stats", s.handleDeviceStats)
			r.Post("/broadcast", s.handleBroadcast)
			r.Get("/{id}", s.handleGetDevice)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Post("/", s.handleAddPlan)
			r.Get("/{id}", s.handleGetPlan)
			r.Delete("/{id}", s.handleRemovePlan)
		})
		r.Get("/queue", s.handleQueue)

		r.Route("/scripts", func(r chi.Router) {
			r.Get("/", s.handleListScripts)
			r.Get("/{name}", s.handleGetScript)
			r.Post("/{name}/reload", s.handleReloadScript)
		})

		r.Route("/results", func(r chi.Router) {
			r.Get("/", s.handleRecentResults)
			r.Get("/summary", s.handleResultSummary)
			r.Get("/{taskID}", s.handleGetResult)
		})

		r.Post("/events", s.handleInjectEvent)

		r.Get("/ws", s.handleWebSocket)
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
