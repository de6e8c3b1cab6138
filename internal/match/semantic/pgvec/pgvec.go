// Package pgvec provides a pgvector-backed scenario embedding index for
// deployments that configure an embeddings provider.
//
// The index stores one embedding per (tenant, scenario) for the scenario's
// searchable text and answers nearest-neighbour queries with cosine distance.
// [Matcher] serves the same Tier-2 contract as the in-process TF-IDF
// matcher; the process config selects which one the router uses, and the
// reindex endpoint keeps the table in step with scenario mutations.
package pgvec

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/chatterlinx/frontdesk/internal/scenario"
)

// Schema is the SQL DDL for the scenario_embeddings table. Execute it via
// [Index.Migrate] or apply it manually during deployment. The vector
// dimension placeholder must match the configured embeddings model.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS scenario_embeddings (
    tenant_id   TEXT NOT NULL,
    scenario_id TEXT NOT NULL,
    embedding   vector(%d) NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, scenario_id)
);
CREATE INDEX IF NOT EXISTS idx_scenario_embeddings_tenant ON scenario_embeddings(tenant_id);
`

// DB is the database interface used by [Index]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension, used for the schema.
	Dimensions() int
}

// Scored pairs a scenario ID with its similarity to the query in [0,1].
type Scored struct {
	ScenarioID string
	Similarity float64
}

// Index is a pgvector-backed scenario embedding index.
type Index struct {
	db       DB
	embedder Embedder
}

// NewIndex creates an Index over db using embedder.
func NewIndex(db DB, embedder Embedder) *Index {
	return &Index{db: db, embedder: embedder}
}

// Migrate executes the [Schema] DDL with the embedder's dimension.
func (ix *Index) Migrate(ctx context.Context) error {
	_, err := ix.db.Exec(ctx, fmt.Sprintf(Schema, ix.embedder.Dimensions()))
	if err != nil {
		return fmt.Errorf("pgvec: migrate: %w", err)
	}
	return nil
}

// Upsert (re)embeds every scenario in the pool for the tenant. Called from
// admin tooling after scenario mutations, never from the turn hot path.
func (ix *Index) Upsert(ctx context.Context, tenantID string, pool *scenario.Pool) error {
	for _, s := range pool.Scenarios() {
		vec, err := ix.embedder.Embed(ctx, s.SearchableText())
		if err != nil {
			return fmt.Errorf("pgvec: embed scenario %s: %w", s.ID, err)
		}
		_, err = ix.db.Exec(ctx, `
			INSERT INTO scenario_embeddings (tenant_id, scenario_id, embedding, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (tenant_id, scenario_id)
			DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()`,
			tenantID, s.ID, pgvector.NewVector(vec))
		if err != nil {
			return fmt.Errorf("pgvec: upsert scenario %s: %w", s.ID, err)
		}
	}
	return nil
}

// Query embeds the utterance and returns the k nearest scenarios by cosine
// similarity, best first.
func (ix *Index) Query(ctx context.Context, tenantID, utterance string, k int) ([]Scored, error) {
	if k <= 0 {
		k = 3
	}
	vec, err := ix.embedder.Embed(ctx, utterance)
	if err != nil {
		return nil, fmt.Errorf("pgvec: embed query: %w", err)
	}

	rows, err := ix.db.Query(ctx, `
		SELECT scenario_id, 1 - (embedding <=> $2) AS similarity
		FROM scenario_embeddings
		WHERE tenant_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		tenantID, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("pgvec: query: %w", err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var s Scored
		if err := rows.Scan(&s.ScenarioID, &s.Similarity); err != nil {
			return nil, fmt.Errorf("pgvec: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvec: rows: %w", err)
	}
	return out, nil
}
