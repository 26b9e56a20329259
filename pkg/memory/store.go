// Package memory defines the dual-memory architecture at the heart of
// Mnemovox.
//
// Content lives in two stores at once:
//
//   - Vector index ([VectorIndex]): embedding-based similarity search over
//     transcript chunks, with metadata filtering.
//   - Entity graph ([EntityGraph]): typed named entities linked to chunks by
//     MENTIONS edges, chunks linked in recording order by FOLLOWED_BY edges,
//     and co-mentioned entities linked by inferred typed edges.
//
// Retrieval is unified behind the [Retriever] interface and the shared
// [Result] shape; the filter algebra ([Filter]) is understood by every
// retriever. Bookkeeping ([Catalog]) and conversation state ([SessionStore])
// round out the persistence surface.
//
// All interfaces are public so that external packages can supply alternative
// backends (pgvector, Neo4j, in-memory, …) without depending on mnemovox
// internals. Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"

	"github.com/mnemovox/mnemovox/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Retriever — the shared search interface
// ─────────────────────────────────────────────────────────────────────────────

// SearchOptions configures a [Retriever.Search] call.
type SearchOptions struct {
	// Filters are evaluated in the shared filter algebra. Retrievers push
	// down what their backend supports and apply the rest in-process.
	Filters []Filter

	// Limit caps the number of results. A value of 0 means the retriever
	// applies its own default.
	Limit int

	// UserID scopes the search to one user's data. When non-empty, results
	// belonging to any other user must not appear. Empty disables scoping.
	UserID string

	// Extras carries retriever-specific knobs (e.g. a similarity floor
	// override) without widening the interface.
	Extras map[string]any
}

// Retriever is the uniform search interface over either memory store. Both
// the vector retriever and the graph retriever implement it, which lets the
// aggregator run them interchangeably and in parallel.
//
// Implementations must be safe for concurrent use.
type Retriever interface {
	// Name identifies the retriever in logs, metrics, and aggregation
	// metrics ("vector", "graph").
	Name() string

	// Search returns results relevant to the free-form query, best first.
	// Returns an empty (non-nil) slice when nothing matches.
	Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error)

	// GetByID fetches one item by id. Returns ErrNotFound when the id is
	// unknown; it never fabricates content.
	GetByID(ctx context.Context, id string) (*Result, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Vector index
// ─────────────────────────────────────────────────────────────────────────────

// VectorQuery is the pushdown-able portion of a vector search: the embedding
// plus the metadata predicates the backend can evaluate natively. Filters
// beyond these are applied in-process by the retriever.
type VectorQuery struct {
	// Embedding is the query vector. Dimension must match the index.
	Embedding []float32

	// Limit caps the number of hits returned by the backend.
	Limit int

	// UserID scopes hits to one user. Empty disables scoping.
	UserID string

	// RecordingIDs restricts hits to the given recordings when non-empty.
	RecordingIDs []string

	// Language and Category are exact-match predicates; empty disables them.
	Language string
	Category string

	// Tags requires a non-empty intersection with the entry's tag list.
	Tags []string

	// After and Before bound the entry creation time (exclusive); zero
	// values disable the bound.
	After  time.Time
	Before time.Time
}

// VectorHit pairs a stored chunk with its vector-space distance from the
// query embedding. Lower distance means higher similarity.
type VectorHit struct {
	Chunk    Chunk
	Distance float64
}

// VectorIndex is the vector half of the dual memory.
//
// Upserts are keyed on chunk id: re-writing the same chunk replaces the
// entry rather than duplicating it. Every entry must be locatable by its
// recording id alone so that [VectorIndex.DeleteRecording] can serve as the
// compensation step of the dual-store writer.
//
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// UpsertChunks stores a batch of pre-embedded chunks.
	UpsertChunks(ctx context.Context, chunks []Chunk) error

	// Search returns the closest chunks to q.Embedding, nearest first,
	// after applying the pushdown predicates in q.
	Search(ctx context.Context, q VectorQuery) ([]VectorHit, error)

	// GetChunk fetches one entry by chunk id. Returns ErrNotFound when the
	// id is unknown.
	GetChunk(ctx context.Context, id string) (*Chunk, error)

	// DeleteRecording removes every entry whose parent is recordingID.
	// Deleting an unknown recording is not an error.
	DeleteRecording(ctx context.Context, recordingID string) error

	// CountChunks returns the number of entries for recordingID.
	CountChunks(ctx context.Context, recordingID string) (int, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Collection names the underlying collection/table, used to build
	// source tags ("pgvector.<collection>").
	Collection() string
}

// ─────────────────────────────────────────────────────────────────────────────
// Entity graph
// ─────────────────────────────────────────────────────────────────────────────

// EntityMentionHit is a chunk found through an entity whose name matched the
// query, together with the graph statistics the retriever scores on.
type EntityMentionHit struct {
	// Chunk is the matched chunk (without embedding).
	Chunk Chunk

	// EntityName is the canonical name of the matched entity.
	EntityName string

	// EntityNormalized is the merge-key form of EntityName.
	EntityNormalized string

	// MentionCount is the entity's total mention count across all chunks.
	MentionCount int
}

// TextHit is a chunk whose text contained the query.
type TextHit struct {
	// Chunk is the matched chunk.
	Chunk Chunk

	// MatchOffset is the rune offset of the first query occurrence within
	// the chunk text.
	MatchOffset int
}

// PathHit is a chunk reached over a bounded entity-to-entity path.
type PathHit struct {
	// Chunk is the chunk at the far end of the path.
	Chunk Chunk

	// PathLength is the number of hops in the connecting path.
	PathLength int

	// Path lists the entity names along the path, in order.
	Path []string
}

// EntityGraph is the graph half of the dual memory.
//
// All node and edge creation uses merge semantics keyed on stable
// identifiers (chunk id; (normalized, type, user) for entities), so
// re-running an ingestion does not duplicate. Every node and edge created
// for a recording must be locatable by the recording id alone so that
// [EntityGraph.DeleteRecording] can serve as the compensation step of the
// dual-store writer.
//
// The graph contains cycles (entity ↔ chunk ↔ entity); traversal operations
// bound depth and visited-set size to guarantee termination.
//
// Implementations must be safe for concurrent use.
type EntityGraph interface {
	// EnsureRecording merges the recording node the chunks hang off.
	EnsureRecording(ctx context.Context, rec types.Recording) error

	// MergeChunk merges the chunk node with its metadata, merges each
	// mentioned entity (incrementing its counters), attaches MENTIONS edges,
	// and applies the co-occurrence inference rules over entity pairs within
	// the chunk.
	MergeChunk(ctx context.Context, c Chunk) error

	// LinkSequence merges FOLLOWED_BY edges between consecutive chunk ids.
	// Call only after every referenced chunk node exists.
	LinkSequence(ctx context.Context, recordingID string, chunkIDs []string) error

	// SearchEntityMentions returns chunks mentioning entities whose surface
	// or normalized form contains name (case-insensitive). entityType
	// narrows the match when non-empty.
	SearchEntityMentions(ctx context.Context, name string, entityType EntityType, userID string, limit int) ([]EntityMentionHit, error)

	// SearchText returns chunks whose text contains the query
	// (case-insensitive), with the offset of the first match.
	SearchText(ctx context.Context, query string, userID string, limit int) ([]TextHit, error)

	// SearchPaths returns chunks connected to chunks matching the query by
	// short entity-to-entity paths, up to maxDepth hops.
	SearchPaths(ctx context.Context, query string, userID string, maxDepth, limit int) ([]PathHit, error)

	// FindPathsBetween returns chunks along entity-to-entity paths linking
	// two named entities, up to maxDepth hops (hard cap
	// [MaxTraversalDepth]).
	FindPathsBetween(ctx context.Context, nameA, nameB string, maxDepth int, userID string, limit int) ([]PathHit, error)

	// GetChunk fetches one chunk node by id. Returns ErrNotFound when the
	// id is unknown.
	GetChunk(ctx context.Context, id string) (*Chunk, error)

	// GetEntity fetches one entity node by its merge key. Returns
	// ErrNotFound when absent.
	GetEntity(ctx context.Context, normalized string, entityType EntityType, userID string) (*Entity, error)

	// CountChunks returns the number of chunk nodes for recordingID.
	CountChunks(ctx context.Context, recordingID string) (int, error)

	// CountSequenceEdges returns the number of FOLLOWED_BY edges between
	// chunks of recordingID.
	CountSequenceEdges(ctx context.Context, recordingID string) (int, error)

	// DeleteRecording removes the recording node, its chunks, and all their
	// edges. Entity nodes survive (possibly orphaned). Deleting an unknown
	// recording is not an error.
	DeleteRecording(ctx context.Context, recordingID string) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// Traversal depth bounds for path operations.
const (
	// DefaultTraversalDepth is used when the caller does not specify one.
	DefaultTraversalDepth = 2

	// MaxTraversalDepth is the hard cap; deeper requests are clamped.
	MaxTraversalDepth = 5
)

// ClampDepth normalises a requested traversal depth into
// [1, MaxTraversalDepth], substituting the default for non-positive values.
func ClampDepth(depth int) int {
	if depth <= 0 {
		return DefaultTraversalDepth
	}
	if depth > MaxTraversalDepth {
		return MaxTraversalDepth
	}
	return depth
}

// ─────────────────────────────────────────────────────────────────────────────
// Relational bookkeeping
// ─────────────────────────────────────────────────────────────────────────────

// JobStatus tracks a background ingestion job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// JobRecord is the bookkeeping row for one ingestion job.
type JobRecord struct {
	ID          string
	RecordingID string
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Catalog is the relational bookkeeping surface: per-recording and per-job
// rows. The dual-store writer flips recording status as the last step of an
// ingestion; retrieval trusts only recordings in status "ingested".
//
// Implementations must be safe for concurrent use.
type Catalog interface {
	// CreateRecording inserts a pending recording row.
	CreateRecording(ctx context.Context, rec RecordingRecord) error

	// GetRecording fetches a recording row. Returns ErrNotFound when absent.
	GetRecording(ctx context.Context, id string) (*RecordingRecord, error)

	// SetRecordingIngested marks the recording successfully ingested,
	// recording the chunk total and the full transcript text.
	SetRecordingIngested(ctx context.Context, id string, chunkTotal int, transcript string) error

	// SetRecordingFailed marks the recording failed with a cause.
	SetRecordingFailed(ctx context.Context, id string, cause string) error

	// DeleteRecording removes the bookkeeping row.
	DeleteRecording(ctx context.Context, id string) error

	// RecentTranscripts returns transcripts of ingested recordings owned by
	// userID and created after cutoff, newest first, capped at limit.
	RecentTranscripts(ctx context.Context, userID string, cutoff time.Time, limit int) ([]types.Transcript, error)

	// CreateJob inserts a queued job row.
	CreateJob(ctx context.Context, job JobRecord) error

	// GetJob fetches a job row. Returns ErrNotFound when absent.
	GetJob(ctx context.Context, id string) (*JobRecord, error)

	// MarkJobRunning transitions a job to running and increments its
	// attempt counter, returning the updated row.
	MarkJobRunning(ctx context.Context, id string) (*JobRecord, error)

	// MarkJobDone transitions a job to done.
	MarkJobDone(ctx context.Context, id string) error

	// MarkJobFailed records the failure cause; the job stays retryable
	// until its attempt budget is exhausted.
	MarkJobFailed(ctx context.Context, id string, cause string) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversation sessions
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore persists conversation sessions.
//
// AppendExchange must be atomic: the history update and the
// delivered-fingerprint inserts commit together or not at all, so a crash
// can never leave a transcript emitted but unrecorded.
//
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// GetSession fetches a session with its history and delivered
	// fingerprints. Returns ErrNotFound when absent.
	GetSession(ctx context.Context, id string) (*Session, error)

	// CreateSession inserts an empty session for userID.
	CreateSession(ctx context.Context, id, userID string) (*Session, error)

	// AppendExchange atomically appends one exchange (truncating history to
	// historyLimit) and records the newly delivered transcript fingerprints.
	// Fingerprints already present are ignored, keeping the delivered list
	// duplicate-free.
	AppendExchange(ctx context.Context, sessionID string, ex Exchange, newFingerprints []string, historyLimit int) error

	// ResetSession clears history and delivered fingerprints but keeps the
	// session row.
	ResetSession(ctx context.Context, id string) error

	// DeleteSession removes the session and its delivered-fingerprint rows.
	DeleteSession(ctx context.Context, id string) error
}
