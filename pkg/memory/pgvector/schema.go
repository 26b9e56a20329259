// Package pgvector provides the vector half of the Mnemovox dual memory,
// backed by a PostgreSQL table with a pgvector HNSW index for fast
// approximate nearest-neighbour search.
//
// Chunks are keyed on their deterministic id, so re-ingesting a recording
// replaces its entries instead of duplicating them, and every entry carries
// its recording id so that the dual-store writer can compensate a partial
// ingestion with a single keyed delete.
//
// Usage:
//
//	idx, err := pgvector.NewIndex(ctx, dsn, 1536)
//	if err != nil { … }
//	defer idx.Close()
//
//	_ = idx.UpsertChunks(ctx, chunks)
//	hits, _ := idx.Search(ctx, memory.VectorQuery{Embedding: vec, Limit: 10})
package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChunkTable is the table (and source-tag collection) vector entries live in.
const ChunkTable = "memory_chunks"

// ddlChunks returns the chunk-table DDL with the embedding dimension
// substituted. The dimension is baked into the column type at schema
// creation time.
func ddlChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id            TEXT         PRIMARY KEY,
    recording_id  TEXT         NOT NULL,
    user_id       TEXT         NOT NULL DEFAULT '',
    content       TEXT         NOT NULL,
    embedding     vector(%[2]d),
    start_pos     INTEGER      NOT NULL DEFAULT 0,
    end_pos       INTEGER      NOT NULL DEFAULT 0,
    chunk_index   INTEGER      NOT NULL DEFAULT 0,
    chunk_total   INTEGER      NOT NULL DEFAULT 0,
    language      TEXT         NOT NULL DEFAULT '',
    tags          TEXT[]       NOT NULL DEFAULT '{}',
    category      TEXT         NOT NULL DEFAULT '',
    entities      JSONB        NOT NULL DEFAULT '[]',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_recording_id
    ON %[1]s (recording_id);

CREATE INDEX IF NOT EXISTS idx_%[1]s_user_id
    ON %[1]s (user_id);

CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding
    ON %[1]s USING hnsw (embedding vector_cosine_ops);
`, ChunkTable, embeddingDimensions)
}

// Migrate creates or ensures the chunk table, its indexes, and the pgvector
// extension exist. It is idempotent and safe to call on every application
// start.
//
// embeddingDimensions must match the embedding model configured for the
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing it after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlChunks(embeddingDimensions)); err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return nil
}
