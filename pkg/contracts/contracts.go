// Package contracts defines the collaborator interfaces consumed by the
// orchestration core. Concrete implementations live in internal/; anything
// embedding the engine can substitute its own retrieval store, web
// searcher or data connector by implementing these.
package contracts

import (
	"context"

	"github.com/dossierhq/dossier/internal/connector"
	"github.com/dossierhq/dossier/internal/prompt"
	"github.com/dossierhq/dossier/internal/retrieval"
	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/pkg/models"
)

// Store is a type alias for the internal Store interface.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// Retriever returns ranked, scope-tagged snippets for a query.
// Implementations must filter by scope; the orchestrator re-checks the
// tags anyway and drops anything that leaks across the boundary.
type Retriever interface {
	Search(ctx context.Context, query string, scope models.Scope, limit int) ([]retrieval.Result, error)
}

// WebSearcher runs one web search per call.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]prompt.WebResult, error)
}

// Connector fetches from one external data source.
type Connector = connector.Connector
