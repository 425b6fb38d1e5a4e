package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dossierhq/dossier/internal/api/handlers"
	"github.com/dossierhq/dossier/internal/api/middleware"
	"github.com/dossierhq/dossier/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.IdentityExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewAPIKeyAuth(cfg.Auth.APIKeyHeader, cfg.Auth.APIKey).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-User-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Suites
		r.Route("/suites", func(r chi.Router) {
			r.Get("/", h.ListSuites)
			r.Post("/", h.CreateSuite)
			r.Route("/{suiteId}", func(r chi.Router) {
				r.Get("/", h.GetSuite)
				r.Put("/", h.UpdateSuite)
			})
		})

		// Agents
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
			r.Route("/{agentId}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Put("/", h.UpdateAgent)
				r.Delete("/", h.DeleteAgent)
				r.Post("/documents", h.UploadAgentDocuments)
			})
		})

		// Workflows
		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", h.ListWorkflows)
			r.Post("/", h.CreateWorkflow)
			r.Route("/{workflowId}", func(r chi.Router) {
				r.Get("/", h.GetWorkflow)
				r.Put("/", h.UpdateWorkflow)
				r.Delete("/", h.DeleteWorkflow)
			})
		})

		// Chats & turns
		r.Route("/chats", func(r chi.Router) {
			r.Get("/", h.ListChats)
			r.Post("/", h.CreateChat)
			r.Route("/{chatId}", func(r chi.Router) {
				r.Get("/", h.GetChat)
				r.Get("/messages", h.ListChatMessages)
				r.Post("/messages", h.SendMessage)
				r.Post("/documents", h.UploadChatDocuments)
			})
		})

		// Data sources
		r.Route("/data-sources", func(r chi.Router) {
			r.Get("/", h.ListDataSources)
			r.Post("/", h.CreateDataSource)
			r.Route("/{sourceId}", func(r chi.Router) {
				r.Get("/", h.GetDataSource)
				r.Put("/", h.UpdateDataSource)
				r.Delete("/", h.DeleteDataSource)
			})
		})

		// Usage
		r.Get("/usage", h.ListUsage)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "dossier-engine",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "dossier-engine",
		})
	}
}
