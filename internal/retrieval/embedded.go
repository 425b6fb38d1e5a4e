package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dossierhq/dossier/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxDocuments caps the embedded index (brute-force search degrades
// past this; production workloads should use pgvector).
const DefaultMaxDocuments = 50_000

// EmbeddedIndex is a lightweight in-memory index using brute-force cosine
// similarity. Suitable for development, tests and small workloads.
type EmbeddedIndex struct {
	mu      sync.RWMutex
	docs    map[string]*Document // key: scope:id
	maxDocs int
}

// NewEmbeddedIndex creates an in-memory vector index.
func NewEmbeddedIndex() *EmbeddedIndex {
	return &EmbeddedIndex{
		docs:    make(map[string]*Document),
		maxDocs: DefaultMaxDocuments,
	}
}

func (s *EmbeddedIndex) Kind() string { return "embedded" }

func (s *EmbeddedIndex) Upsert(_ context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCount := 0
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		if _, exists := s.docs[docKey(docs[i].Scope, docs[i].ID)]; !exists {
			newCount++
		}
	}
	if len(s.docs)+newCount > s.maxDocs {
		return fmt.Errorf("embedded index capacity exceeded: %d documents (use pgvector for larger corpora)", s.maxDocs)
	}

	now := time.Now().UTC()
	for _, d := range docs {
		cp := d
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		s.docs[docKey(cp.Scope, cp.ID)] = &cp
	}
	return nil
}

func (s *EmbeddedIndex) Search(_ context.Context, vector []float64, scope models.Scope, topK int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		doc   *Document
		score float64
	}
	var candidates []scored
	for _, d := range s.docs {
		if d.Scope != scope {
			continue
		}
		if len(d.Vector) != len(vector) {
			log.Warn().
				Str("doc", d.ID).
				Int("doc_dims", len(d.Vector)).
				Int("query_dims", len(vector)).
				Msg("Dimension mismatch, skipping document")
			continue
		}
		candidates = append(candidates, scored{doc: d, score: cosineSimilarity(vector, d.Vector)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if topK > len(candidates) {
		topK = len(candidates)
	}

	results := make([]Result, topK)
	for i := 0; i < topK; i++ {
		results[i] = Result{
			Content: candidates[i].doc.Content,
			Score:   candidates[i].score,
			Scope:   candidates[i].doc.Scope,
			Source:  candidates[i].doc.Metadata,
		}
	}
	return results, nil
}

func (s *EmbeddedIndex) Close() {}

func docKey(scope models.Scope, id string) string {
	return scope.String() + ":" + id
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
