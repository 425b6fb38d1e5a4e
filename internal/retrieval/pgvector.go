package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dossierhq/dossier/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgvectorIndex implements Index using PostgreSQL with the pgvector
// extension. Scope columns are part of the primary key, so a search can
// never cross a scope boundary at the SQL level.
type PgvectorIndex struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorIndex connects and creates the table and indexes if missing.
func NewPgvectorIndex(ctx context.Context, connURL string, dimensions int) (*PgvectorIndex, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorIndex{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", dimensions).Msg("pgvector index initialized")
	return s, nil
}

func (s *PgvectorIndex) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS dossier_documents (
			id         TEXT NOT NULL,
			scope_kind TEXT NOT NULL,
			scope_id   TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			metadata   JSONB NOT NULL DEFAULT '{}',
			vector     vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (scope_kind, scope_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_dossier_documents_scope
			ON dossier_documents (scope_kind, scope_id);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorIndex) Kind() string { return "pgvector" }

func (s *PgvectorIndex) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO dossier_documents (id, scope_kind, scope_id, content, metadata, vector, created_at)
		VALUES `)

	args := make([]any, 0, len(docs)*7)
	for i, d := range docs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*7 + 1
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base, base+1, base+2, base+3, base+4, base+5, base+6)

		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := d.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		metadata := d.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		args = append(args, id, string(d.Scope.Kind), d.Scope.ID, d.Content, metadata, pgvectorArray(d.Vector), created)
	}

	sb.WriteString(` ON CONFLICT (scope_kind, scope_id, id) DO UPDATE SET
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		vector = EXCLUDED.vector`)

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (s *PgvectorIndex) Search(ctx context.Context, vector []float64, scope models.Scope, topK int) ([]Result, error) {
	query := `SELECT content, metadata, 1 - (vector <=> $1) AS score
		FROM dossier_documents
		WHERE scope_kind = $2 AND scope_id = $3
		ORDER BY vector <=> $1
		LIMIT $4`

	rows, err := s.pool.Query(ctx, query, pgvectorArray(vector), string(scope.Kind), scope.ID, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Content, &r.Source, &r.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		r.Scope = scope
		results = append(results, r)
	}
	return results, rows.Err()
}

// Close releases the connection pool.
func (s *PgvectorIndex) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float64 slice to pgvector's text format: [1,2,3]
func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	return sb.String()
}
