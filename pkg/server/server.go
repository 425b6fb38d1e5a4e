// Package server provides the public entry point for initializing the
// Dossier engine server.
//
// This package lives in pkg/ (not internal/) so embedding applications can
// compose the full server with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dossierhq/dossier/internal/api"
	"github.com/dossierhq/dossier/internal/api/handlers"
	"github.com/dossierhq/dossier/internal/config"
	"github.com/dossierhq/dossier/internal/connector"
	"github.com/dossierhq/dossier/internal/embeddings"
	"github.com/dossierhq/dossier/internal/provider"
	"github.com/dossierhq/dossier/internal/retrieval"
	"github.com/dossierhq/dossier/internal/runner"
	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/internal/telemetry"
	"github.com/dossierhq/dossier/internal/tools"
	"github.com/dossierhq/dossier/internal/usage"
	"github.com/dossierhq/dossier/internal/websearch"
)

// Server holds the initialized Dossier engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store.
	Store store.Store

	// Config is the loaded server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all engine components from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore()
	log.Info().Msg("In-memory store initialized")

	registry := provider.NewRegistry(provider.Credentials{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OllamaHost:      os.Getenv("OLLAMA_HOST"),
	})

	ret, err := buildRetrieval(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init retrieval: %w", err)
	}

	var searcher websearch.Searcher = websearch.Disabled{}
	if cfg.WebSearch.Endpoint != "" {
		searcher = websearch.NewSearxClient(cfg.WebSearch.Endpoint)
		log.Info().Str("endpoint", cfg.WebSearch.Endpoint).Msg("Web search enabled")
	}

	conn := connector.NewRESTConnector()
	catalog := tools.NewCatalog(dataStore)
	invoker := tools.NewInvoker(dataStore, conn)
	recorder := usage.NewRecorder(dataStore)

	agents := runner.NewAgentRunner(runner.Deps{
		Store:     dataStore,
		Registry:  registry,
		Retriever: ret,
		Searcher:  searcher,
		Catalog:   catalog,
		Invoker:   invoker,
		Connector: conn,
		Recorder:  recorder,
		Runner:    cfg.Runner,
	})
	workflows := runner.NewWorkflowRunner(agents)

	h := handlers.New(dataStore, agents, workflows, ret)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// buildRetrieval wires the embedding driver and vector index. DATABASE_URL
// selects pgvector; otherwise the embedded index is used.
func buildRetrieval(ctx context.Context, cfg *config.Config) (*retrieval.Service, error) {
	embedder, err := embeddings.ForConfig(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	var index retrieval.Index
	if cfg.Database.URL != "" {
		index, err = retrieval.NewPgvectorIndex(ctx, cfg.Database.URL, embedder.Dimensions())
		if err != nil {
			return nil, err
		}
		log.Info().Int("dimensions", embedder.Dimensions()).Msg("pgvector retrieval index initialized")
	} else {
		index = retrieval.NewEmbeddedIndex()
		log.Info().Msg("Embedded retrieval index initialized")
	}

	return retrieval.NewService(embedder, index), nil
}
