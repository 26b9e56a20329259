package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// Compile-time interface check.
var _ memory.VectorIndex = (*Index)(nil)

// Index is the PostgreSQL/pgvector implementation of [memory.VectorIndex].
// All methods are safe for concurrent use.
type Index struct {
	pool *pgxpool.Pool
}

// NewIndex establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate] to ensure
// the chunk table exists.
func NewIndex(ctx context.Context, dsn string, embeddingDimensions int) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector index: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector index: migrate: %w", err)
	}

	return &Index{pool: pool}, nil
}

// NewIndexWithPool wraps an existing pool without migrating. The pool must
// already have pgvector types registered.
func NewIndexWithPool(pool *pgxpool.Pool) *Index {
	return &Index{pool: pool}
}

// Close releases all connections held by the underlying connection pool.
func (ix *Index) Close() { ix.pool.Close() }

// Collection implements [memory.VectorIndex].
func (ix *Index) Collection() string { return ChunkTable }

// UpsertChunks implements [memory.VectorIndex]. Chunks with the same id as an
// existing entry replace it completely. The whole batch is sent in a single
// round trip.
func (ix *Index) UpsertChunks(ctx context.Context, chunks []memory.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO ` + ChunkTable + `
		    (id, recording_id, user_id, content, embedding, start_pos, end_pos,
		     chunk_index, chunk_total, language, tags, category, entities, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
		    recording_id = EXCLUDED.recording_id,
		    user_id      = EXCLUDED.user_id,
		    content      = EXCLUDED.content,
		    embedding    = EXCLUDED.embedding,
		    start_pos    = EXCLUDED.start_pos,
		    end_pos      = EXCLUDED.end_pos,
		    chunk_index  = EXCLUDED.chunk_index,
		    chunk_total  = EXCLUDED.chunk_total,
		    language     = EXCLUDED.language,
		    tags         = EXCLUDED.tags,
		    category     = EXCLUDED.category,
		    entities     = EXCLUDED.entities,
		    created_at   = EXCLUDED.created_at`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		tags := c.Tags
		if tags == nil {
			tags = []string{}
		}
		entities := c.Entities
		if entities == nil {
			entities = []memory.EntityMention{}
		}
		batch.Queue(q,
			c.ID,
			c.RecordingID,
			c.UserID,
			c.Text,
			pgvector.NewVector(c.Embedding),
			c.Start,
			c.End,
			c.Index,
			c.Total,
			c.Language,
			tags,
			c.Category,
			entities,
			c.CreatedAt,
		)
	}
	if err := ix.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgvector index: upsert %d chunks: %w", len(chunks), err)
	}
	return nil
}

// Search implements [memory.VectorIndex]. Hits are ordered by ascending
// cosine distance (most similar first). Every predicate in q is evaluated
// natively by the database.
func (ix *Index) Search(ctx context.Context, q memory.VectorQuery) ([]memory.VectorHit, error) {
	args := []any{pgvector.NewVector(q.Embedding)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if q.UserID != "" {
		conditions = append(conditions, "user_id = "+next(q.UserID))
	}
	if len(q.RecordingIDs) > 0 {
		conditions = append(conditions, "recording_id = ANY("+next(q.RecordingIDs)+")")
	}
	if q.Language != "" {
		conditions = append(conditions, "language = "+next(q.Language))
	}
	if q.Category != "" {
		conditions = append(conditions, "category = "+next(q.Category))
	}
	if len(q.Tags) > 0 {
		conditions = append(conditions, "tags && "+next(q.Tags))
	}
	if !q.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(q.After))
	}
	if !q.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(q.Before))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	sql := fmt.Sprintf(`
		SELECT id, recording_id, user_id, content, start_pos, end_pos,
		       chunk_index, chunk_total, language, tags, category, entities,
		       created_at, embedding <=> $1 AS distance
		FROM   %s
		%s
		ORDER  BY distance
		LIMIT  %s`, ChunkTable, whereClause, limitArg)

	rows, err := ix.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: search: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.VectorHit, error) {
		var h memory.VectorHit
		if err := scanChunkRow(row, &h.Chunk, &h.Distance); err != nil {
			return memory.VectorHit{}, err
		}
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector index: scan rows: %w", err)
	}
	if hits == nil {
		hits = []memory.VectorHit{}
	}
	return hits, nil
}

// GetChunk implements [memory.VectorIndex].
func (ix *Index) GetChunk(ctx context.Context, id string) (*memory.Chunk, error) {
	const q = `
		SELECT id, recording_id, user_id, content, start_pos, end_pos,
		       chunk_index, chunk_total, language, tags, category, entities,
		       created_at, 0::float8
		FROM   ` + ChunkTable + `
		WHERE  id = $1`

	rows, err := ix.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: get chunk %q: %w", id, err)
	}

	chunk, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (memory.Chunk, error) {
		var (
			c        memory.Chunk
			distance float64
		)
		if err := scanChunkRow(row, &c, &distance); err != nil {
			return memory.Chunk{}, err
		}
		return c, nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pgvector index: get chunk %q: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pgvector index: get chunk %q: %w", id, err)
	}
	return &chunk, nil
}

// DeleteRecording implements [memory.VectorIndex]. It is the keyed cleanup
// used by the dual-store writer's compensation path; deleting a recording
// with no entries is a no-op.
func (ix *Index) DeleteRecording(ctx context.Context, recordingID string) error {
	_, err := ix.pool.Exec(ctx,
		`DELETE FROM `+ChunkTable+` WHERE recording_id = $1`, recordingID)
	if err != nil {
		return fmt.Errorf("pgvector index: delete recording %q: %w", recordingID, err)
	}
	return nil
}

// CountChunks implements [memory.VectorIndex].
func (ix *Index) CountChunks(ctx context.Context, recordingID string) (int, error) {
	var n int
	err := ix.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+ChunkTable+` WHERE recording_id = $1`, recordingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pgvector index: count chunks %q: %w", recordingID, err)
	}
	return n, nil
}

// HealthCheck implements [memory.VectorIndex].
func (ix *Index) HealthCheck(ctx context.Context) error {
	if err := ix.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgvector index: ping: %w", err)
	}
	return nil
}

// scanChunkRow scans the shared chunk column list plus a trailing distance.
// Embeddings are deliberately not read back; retrieval never needs them.
func scanChunkRow(row pgx.CollectableRow, c *memory.Chunk, distance *float64) error {
	return row.Scan(
		&c.ID,
		&c.RecordingID,
		&c.UserID,
		&c.Text,
		&c.Start,
		&c.End,
		&c.Index,
		&c.Total,
		&c.Language,
		&c.Tags,
		&c.Category,
		&c.Entities,
		&c.CreatedAt,
		distance,
	)
}
