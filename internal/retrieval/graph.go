package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/mnemovox/mnemovox/internal/resilience"
	"github.com/mnemovox/mnemovox/pkg/memory"
)

// Source tags for the graph retriever's sub-strategies.
const (
	SourceEntityName       = "neo4j.entity_name"
	SourceTextContent      = "neo4j.text_content"
	SourceRelationshipPath = "neo4j.relationship_path"
)

// Metadata keys the graph retriever attaches beyond the standard set.
const (
	MetaMentionCount  = "mention_count"
	MetaMatchedEntity = "matched_entity"
	MetaPathLength    = "path_length"
	MetaPath          = "path"
)

// exactMatchSimilarity treats a near-identical entity name as an exact match
// for the scoring boost, absorbing transcription spelling drift.
const exactMatchSimilarity = 0.95

// Compile-time assertion that GraphRetriever satisfies memory.Retriever.
var _ memory.Retriever = (*GraphRetriever)(nil)

// GraphRetriever answers queries from the entity graph. Search cascades
// through three strategies, stopping as soon as the limit is met:
//
//  1. Entity-name search: chunks mentioning entities whose name contains the
//     query.
//  2. Text-content search: chunks whose text contains the query.
//  3. Relationship-path search: chunks connected to matching chunks over
//     short entity-to-entity paths.
type GraphRetriever struct {
	graph  memory.EntityGraph
	logger *slog.Logger
	retry  resilience.RetryConfig
}

// NewGraphRetriever creates the graph half of the retrieval pair.
func NewGraphRetriever(graph memory.EntityGraph, logger *slog.Logger) *GraphRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphRetriever{
		graph:  graph,
		logger: logger,
		retry:  resilience.RetryConfig{Attempts: 2},
	}
}

// Name implements [memory.Retriever].
func (r *GraphRetriever) Name() string { return "graph" }

// Search implements [memory.Retriever].
func (r *GraphRetriever) Search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	seen := map[string]struct{}{}
	var results []memory.Result

	add := func(batch []memory.Result) {
		for _, res := range batch {
			if _, dup := seen[res.ID]; dup {
				continue
			}
			seen[res.ID] = struct{}{}
			results = append(results, res)
		}
	}

	entityResults, err := r.searchEntityName(ctx, query, opts.UserID, limit)
	if err != nil {
		return nil, err
	}
	add(entityResults)

	if len(results) < limit {
		textResults, err := r.searchTextContent(ctx, query, opts.UserID, limit-len(results))
		if err != nil {
			return nil, err
		}
		add(textResults)
	}

	if len(results) < limit {
		pathResults, err := r.searchRelationshipPaths(ctx, query, opts.UserID, limit-len(results))
		if err != nil {
			return nil, err
		}
		add(pathResults)
	}

	results = memory.ApplyFilters(results, opts.Filters)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchEntityName is strategy 1. The score combines how often the matched
// entity is mentioned overall with how entity-dense the chunk is, boosted
// when the entity name is (nearly) the query itself.
func (r *GraphRetriever) searchEntityName(ctx context.Context, query, userID string, limit int) ([]memory.Result, error) {
	var hits []memory.EntityMentionHit
	err := resilience.Retry(ctx, r.retry, func(ctx context.Context) error {
		var e error
		hits, e = r.graph.SearchEntityMentions(ctx, query, "", userID, limit)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("graph retriever: entity search: %w", err)
	}

	queryNorm := memory.NormalizeEntityName(query)
	results := make([]memory.Result, 0, len(hits))
	for _, h := range hits {
		score := float64(h.MentionCount)/10 + float64(h.Chunk.EntityCount())/20
		if score > 1 {
			score = 1
		}
		if queryNorm != "" &&
			(h.EntityNormalized == queryNorm ||
				matchr.JaroWinkler(h.EntityNormalized, queryNorm, false) >= exactMatchSimilarity) {
			score += 0.3
		}
		if score > 1 {
			score = 1
		}

		res := memory.ChunkResult(h.Chunk, score, SourceEntityName)
		res.Metadata[MetaMentionCount] = h.MentionCount
		res.Metadata[MetaMatchedEntity] = h.EntityName
		results = append(results, res)
	}
	return results, nil
}

// searchTextContent is strategy 2. Earlier matches score higher, floored at
// 0.2.
func (r *GraphRetriever) searchTextContent(ctx context.Context, query, userID string, limit int) ([]memory.Result, error) {
	var hits []memory.TextHit
	err := resilience.Retry(ctx, r.retry, func(ctx context.Context) error {
		var e error
		hits, e = r.graph.SearchText(ctx, query, userID, limit)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("graph retriever: text search: %w", err)
	}

	results := make([]memory.Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, memory.ChunkResult(h.Chunk, textScore(h), SourceTextContent))
	}
	return results, nil
}

func textScore(h memory.TextHit) float64 {
	length := len([]rune(h.Chunk.Text))
	if length == 0 {
		return 0.2
	}
	score := 1 - float64(h.MatchOffset)/float64(length)
	if score < 0.2 {
		return 0.2
	}
	return score
}

// searchRelationshipPaths is strategy 3. Shorter connecting paths score
// higher, floored at 0.2.
func (r *GraphRetriever) searchRelationshipPaths(ctx context.Context, query, userID string, limit int) ([]memory.Result, error) {
	var hits []memory.PathHit
	err := resilience.Retry(ctx, r.retry, func(ctx context.Context) error {
		var e error
		hits, e = r.graph.SearchPaths(ctx, query, userID, memory.DefaultTraversalDepth, limit)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("graph retriever: path search: %w", err)
	}
	return pathResults(hits), nil
}

func pathResults(hits []memory.PathHit) []memory.Result {
	results := make([]memory.Result, 0, len(hits))
	for _, h := range hits {
		score := 1 / float64(h.PathLength+1)
		if score < 0.2 {
			score = 0.2
		}
		res := memory.ChunkResult(h.Chunk, score, SourceRelationshipPath)
		res.Metadata[MetaPathLength] = h.PathLength
		if len(h.Path) > 0 {
			res.Metadata[MetaPath] = strings.Join(h.Path, " -> ")
			res.Relationships = append(res.Relationships, strings.Join(h.Path, " -> "))
		}
		results = append(results, res)
	}
	return results
}

// FindEntityMentions is the direct form of the entity-name strategy,
// exposed for callers that already know which entity they are after.
func (r *GraphRetriever) FindEntityMentions(ctx context.Context, name string, entityType memory.EntityType, userID string, limit int) ([]memory.Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	hits, err := r.graph.SearchEntityMentions(ctx, name, entityType, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("graph retriever: entity mentions: %w", err)
	}

	results := make([]memory.Result, 0, len(hits))
	for _, h := range hits {
		score := float64(h.MentionCount) / 10
		if score > 1 {
			score = 1
		}
		res := memory.ChunkResult(h.Chunk, score, SourceEntityName)
		res.Metadata[MetaMentionCount] = h.MentionCount
		res.Metadata[MetaMatchedEntity] = h.EntityName
		results = append(results, res)
	}
	return results, nil
}

// FindPathsBetween returns chunks along entity-to-entity paths linking two
// named entities. Depth is clamped to [1, memory.MaxTraversalDepth].
func (r *GraphRetriever) FindPathsBetween(ctx context.Context, nameA, nameB string, maxDepth int, userID string, limit int) ([]memory.Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	hits, err := r.graph.FindPathsBetween(ctx, nameA, nameB, memory.ClampDepth(maxDepth), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("graph retriever: paths between %q and %q: %w", nameA, nameB, err)
	}
	return pathResults(hits), nil
}

// GetByID implements [memory.Retriever].
func (r *GraphRetriever) GetByID(ctx context.Context, id string) (*memory.Result, error) {
	chunk, err := r.graph.GetChunk(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("graph retriever: get %s: %w", id, err)
	}
	res := memory.ChunkResult(*chunk, 1, SourceTextContent)
	return &res, nil
}

// HealthCheck implements [memory.Retriever].
func (r *GraphRetriever) HealthCheck(ctx context.Context) error {
	return r.graph.HealthCheck(ctx)
}
