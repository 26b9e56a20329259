// Package retrieval implements the two retrievers of the dual memory behind
// the shared [memory.Retriever] interface: semantic nearest-neighbour search
// over the vector index, and entity/text/path search over the graph.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mnemovox/mnemovox/internal/resilience"
	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/provider/embeddings"
)

// DefaultLimit caps retriever results when the caller does not set one.
const DefaultLimit = 10

// DefaultSimilarityFloor drops vector hits whose similarity falls below it.
const DefaultSimilarityFloor = 0.25

// ExtraSimilarityFloor is the SearchOptions.Extras key that overrides the
// vector retriever's similarity floor per call.
const ExtraSimilarityFloor = "similarity_floor"

// Compile-time assertion that VectorRetriever satisfies memory.Retriever.
var _ memory.Retriever = (*VectorRetriever)(nil)

// VectorRetriever answers free-form queries by embedding them and searching
// the vector index. Filters the index supports natively (user scoping,
// recording membership, language, category, tags, date range) are pushed
// down; the rest are applied in-process over the materialised results.
type VectorRetriever struct {
	index    memory.VectorIndex
	embedder embeddings.Provider
	floor    float64
	logger   *slog.Logger
	retry    resilience.RetryConfig
}

// VectorOption is a functional option for [NewVectorRetriever].
type VectorOption func(*VectorRetriever)

// WithSimilarityFloor sets the minimum similarity a hit needs to be
// returned. Defaults to 0.25.
func WithSimilarityFloor(floor float64) VectorOption {
	return func(r *VectorRetriever) { r.floor = floor }
}

// NewVectorRetriever creates the vector half of the retrieval pair.
func NewVectorRetriever(index memory.VectorIndex, embedder embeddings.Provider, logger *slog.Logger, opts ...VectorOption) *VectorRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	r := &VectorRetriever{
		index:    index,
		embedder: embedder,
		floor:    DefaultSimilarityFloor,
		logger:   logger,
		retry:    resilience.RetryConfig{Attempts: 2},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Name implements [memory.Retriever].
func (r *VectorRetriever) Name() string { return "vector" }

// Search implements [memory.Retriever].
func (r *VectorRetriever) Search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector retriever: embed query: %w", err)
	}

	vq, residual := splitFilters(opts.Filters)
	vq.Embedding = embedding
	vq.UserID = opts.UserID
	// Over-fetch so in-process filtering and the similarity floor still leave
	// enough candidates.
	vq.Limit = limit * 2

	var hits []memory.VectorHit
	err = resilience.Retry(ctx, r.retry, func(ctx context.Context) error {
		var e error
		hits, e = r.index.Search(ctx, vq)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("vector retriever: search: %w", err)
	}

	floor := r.floor
	if override, ok := opts.Extras[ExtraSimilarityFloor].(float64); ok {
		floor = override
	}

	source := "pgvector." + r.index.Collection()
	results := make([]memory.Result, 0, len(hits))
	for _, h := range hits {
		score := 1 - h.Distance
		if score < 0 {
			score = 0
		}
		if score < floor {
			continue
		}
		if opts.UserID != "" && h.Chunk.UserID != "" && h.Chunk.UserID != opts.UserID {
			continue
		}
		results = append(results, memory.ChunkResult(h.Chunk, score, source))
	}

	results = memory.ApplyFilters(results, residual)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetByID implements [memory.Retriever].
func (r *VectorRetriever) GetByID(ctx context.Context, id string) (*memory.Result, error) {
	chunk, err := r.index.GetChunk(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("vector retriever: get %s: %w", id, err)
	}
	res := memory.ChunkResult(*chunk, 1, "pgvector."+r.index.Collection())
	return &res, nil
}

// HealthCheck implements [memory.Retriever].
func (r *VectorRetriever) HealthCheck(ctx context.Context) error {
	return r.index.HealthCheck(ctx)
}

// splitFilters separates the filters the vector backend evaluates natively
// from those that must run in-process. Pushdown covers equality on user id,
// recording id, language, and category, recording-id membership, tag
// intersection, and created-at bounds.
func splitFilters(filters []memory.Filter) (memory.VectorQuery, []memory.Filter) {
	var q memory.VectorQuery
	var residual []memory.Filter

	for _, f := range filters {
		field := canonicalField(f.Field)
		switch {
		case field == memory.MetaUserID && f.Op == memory.OpEquals:
			if s, ok := f.Value.(string); ok {
				q.UserID = s
				continue
			}
		case field == memory.MetaRecordingID && f.Op == memory.OpEquals:
			if s, ok := f.Value.(string); ok {
				q.RecordingIDs = append(q.RecordingIDs, s)
				continue
			}
		case field == memory.MetaRecordingID && f.Op == memory.OpIn:
			if ids, ok := stringList(f.Value); ok {
				q.RecordingIDs = append(q.RecordingIDs, ids...)
				continue
			}
		case field == memory.MetaLanguage && f.Op == memory.OpEquals:
			if s, ok := f.Value.(string); ok {
				q.Language = s
				continue
			}
		case field == memory.MetaCategory && f.Op == memory.OpEquals:
			if s, ok := f.Value.(string); ok {
				q.Category = s
				continue
			}
		case field == memory.MetaTags && (f.Op == memory.OpContains || f.Op == memory.OpIn):
			if s, ok := f.Value.(string); ok {
				q.Tags = append(q.Tags, s)
				continue
			}
			if tags, ok := stringList(f.Value); ok {
				q.Tags = append(q.Tags, tags...)
				continue
			}
		case field == memory.MetaCreatedAt && (f.Op == memory.OpGT || f.Op == memory.OpGTE):
			if ts, ok := filterTime(f.Value); ok {
				q.After = ts
				continue
			}
		case field == memory.MetaCreatedAt && (f.Op == memory.OpLT || f.Op == memory.OpLTE):
			if ts, ok := filterTime(f.Value); ok {
				q.Before = ts
				continue
			}
		}
		residual = append(residual, f)
	}
	return q, residual
}

// canonicalField strips the "metadata." prefix so that "metadata.user_id"
// and "user_id" push down identically.
func canonicalField(field string) string {
	const prefix = "metadata."
	if len(field) > len(prefix) && field[:len(prefix)] == prefix {
		return field[len(prefix):]
	}
	return field
}

func stringList(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func filterTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
