// Package retrieval implements the document retrieval collaborator: given
// a query and a tenant scope (chat or agent), return ranked text snippets
// tagged with the scope they belong to. Two index backends are provided:
// an embedded brute-force cosine store for development and tests, and a
// pgvector-backed store for production.
//
// Every stored document and every result carries its scope tag. The
// orchestrator re-checks those tags after each search; this package is
// expected to filter correctly, but is not trusted to.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dossierhq/dossier/internal/embeddings"
	"github.com/dossierhq/dossier/pkg/models"
)

// Document is one stored text fragment.
type Document struct {
	ID        string            `json:"id"`
	Scope     models.Scope      `json:"scope"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Vector    []float64         `json:"vector,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Result is one ranked hit, tagged with the scope it was stored under.
type Result struct {
	Content string            `json:"content"`
	Score   float64           `json:"score"`
	Scope   models.Scope      `json:"scope"`
	Source  map[string]string `json:"source,omitempty"`
}

// Index is a vector index over scoped documents.
type Index interface {
	Kind() string
	Upsert(ctx context.Context, docs []Document) error
	// Search returns the topK nearest documents within the given scope.
	Search(ctx context.Context, vector []float64, scope models.Scope, topK int) ([]Result, error)
	Close()
}

// Service composes an embedding driver and an index into the retrieval
// collaborator the runner consumes.
type Service struct {
	embedder embeddings.Driver
	index    Index
}

// NewService creates a retrieval service.
func NewService(embedder embeddings.Driver, index Index) *Service {
	return &Service{embedder: embedder, index: index}
}

// Search embeds the query and returns ranked snippets within scope.
func (s *Service) Search(ctx context.Context, query string, scope models.Scope, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}
	return s.index.Search(ctx, vectors[0], scope, limit)
}

// IndexTexts embeds and stores texts under the given scope, returning the
// assigned document IDs. metadata is per-document and may be nil.
func (s *Service) IndexTexts(ctx context.Context, scope models.Scope, texts []string, metadata []map[string]string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed documents: expected %d vectors, got %d", len(texts), len(vectors))
	}

	now := time.Now().UTC()
	ids := make([]string, len(texts))
	docs := make([]Document, len(texts))
	for i, text := range texts {
		ids[i] = uuid.New().String()
		docs[i] = Document{
			ID:        ids[i],
			Scope:     scope,
			Content:   text,
			Vector:    vectors[i],
			CreatedAt: now,
		}
		if metadata != nil {
			docs[i].Metadata = metadata[i]
		}
	}
	if err := s.index.Upsert(ctx, docs); err != nil {
		return nil, err
	}
	return ids, nil
}
