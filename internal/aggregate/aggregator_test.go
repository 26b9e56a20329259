package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/mnemovox/mnemovox/internal/rank"
	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/memory/mock"
)

// fakeTraverser is a minimal [Traverser] double.
type fakeTraverser struct {
	mentions []memory.Result
	paths    []memory.Result
	err      error

	mentionCalls [][]any
	pathCalls    [][]any
}

func (f *fakeTraverser) FindEntityMentions(_ context.Context, name string, et memory.EntityType, userID string, limit int) ([]memory.Result, error) {
	f.mentionCalls = append(f.mentionCalls, []any{name, et, userID, limit})
	return f.mentions, f.err
}

func (f *fakeTraverser) FindPathsBetween(_ context.Context, a, b string, depth int, userID string, limit int) ([]memory.Result, error) {
	f.pathCalls = append(f.pathCalls, []any{a, b, depth, userID, limit})
	return f.paths, f.err
}

func vectorResult(id string, score float64) memory.Result {
	return memory.Result{ID: id, Content: "chunk " + id, Score: score, Source: "pgvector.memory_chunks"}
}

func graphResult(id string, score float64) memory.Result {
	return memory.Result{ID: id, Content: "chunk " + id, Score: score, Source: "neo4j.entity_name"}
}

func TestRetrieveEnsembleMergesBothSources(t *testing.T) {
	t.Parallel()

	vector := &mock.Retriever{RetrieverName: "vector", SearchResult: []memory.Result{
		vectorResult("c1", 0.9),
		vectorResult("c2", 0.4),
	}}
	graph := &mock.Retriever{RetrieverName: "graph", SearchResult: []memory.Result{
		graphResult("c3", 0.8),
	}}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default())
	results, m, err := agg.Retrieve(context.Background(), "what happened", memory.SearchOptions{UserID: "u1"}, StrategyEnsemble)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if m.Strategy != StrategyEnsemble || m.Preset != rank.PresetEnsemble {
		t.Errorf("metrics plan = %s/%s", m.Strategy, m.Preset)
	}
	if m.SourceCounts["vector"] != 2 || m.SourceCounts["graph"] != 1 {
		t.Errorf("source counts = %v", m.SourceCounts)
	}
	if _, ok := m.Stages["vector"]; !ok {
		t.Error("missing vector stage timing")
	}
	if _, ok := m.Stages["rank"]; !ok {
		t.Error("missing rank stage timing")
	}
	if m.ResultCount != 3 || m.DuplicatesRemoved != 0 {
		t.Errorf("result_count = %d, duplicates = %d", m.ResultCount, m.DuplicatesRemoved)
	}
}

func TestRetrieveBudgetSplit(t *testing.T) {
	t.Parallel()

	vector := &mock.Retriever{RetrieverName: "vector"}
	graph := &mock.Retriever{RetrieverName: "graph"}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default())
	_, _, err := agg.Retrieve(context.Background(), "query", memory.SearchOptions{Limit: 10}, StrategyEnsemble)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	// 10 × 0.5 share × 1.5 headroom = 8 per retriever.
	for _, r := range []*mock.Retriever{vector, graph} {
		calls := r.Calls()
		if len(calls) != 1 {
			t.Fatalf("%s: %d calls, want 1", r.Name(), len(calls))
		}
		opts := calls[0].Args[1].(memory.SearchOptions)
		if opts.Limit != 8 {
			t.Errorf("%s budget = %d, want 8", r.Name(), opts.Limit)
		}
	}
}

func TestRetrieveVectorOnlySkipsGraph(t *testing.T) {
	t.Parallel()

	vector := &mock.Retriever{RetrieverName: "vector", SearchResult: []memory.Result{vectorResult("c1", 0.9)}}
	graph := &mock.Retriever{RetrieverName: "graph"}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default())
	results, _, err := agg.Retrieve(context.Background(), "query", memory.SearchOptions{}, StrategyVectorOnly)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	if n := graph.CallCount("Search"); n != 0 {
		t.Errorf("graph searched %d times, want 0", n)
	}
}

func TestRetrieveFailureIsolation(t *testing.T) {
	t.Parallel()

	vector := &mock.Retriever{RetrieverName: "vector", SearchErr: errors.New("pgvector down")}
	graph := &mock.Retriever{RetrieverName: "graph", SearchResult: []memory.Result{
		graphResult("c1", 0.8),
	}}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default())
	results, m, err := agg.Retrieve(context.Background(), "query", memory.SearchOptions{}, StrategyEnsemble)
	if err != nil {
		t.Fatalf("one healthy source should not fail the pass: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c1" {
		t.Fatalf("results = %+v", results)
	}
	if m.SourceErrors["vector"] == "" {
		t.Error("vector failure not recorded in metrics")
	}
	if _, ok := m.SourceCounts["vector"]; ok {
		t.Error("failed source should not report a count")
	}
}

func TestRetrieveAllSourcesFailed(t *testing.T) {
	t.Parallel()

	vector := &mock.Retriever{RetrieverName: "vector", SearchErr: errors.New("pgvector down")}
	graph := &mock.Retriever{RetrieverName: "graph", SearchErr: errors.New("neo4j down")}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default())
	_, m, err := agg.Retrieve(context.Background(), "query", memory.SearchOptions{}, StrategyEnsemble)
	if err == nil {
		t.Fatal("expected error when every source fails")
	}
	if len(m.SourceErrors) != 2 {
		t.Errorf("source errors = %v", m.SourceErrors)
	}
}

func TestRetrieveCrossSourceMerge(t *testing.T) {
	t.Parallel()

	// The same chunk surfaces from both stores; it must come back once,
	// carrying both source tags.
	vector := &mock.Retriever{RetrieverName: "vector", SearchResult: []memory.Result{
		vectorResult("shared", 0.7),
	}}
	graph := &mock.Retriever{RetrieverName: "graph", SearchResult: []memory.Result{
		graphResult("shared", 0.6),
	}}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default())
	results, m, err := agg.Retrieve(context.Background(), "query", memory.SearchOptions{}, StrategyEnsemble)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 merged", len(results))
	}
	if m.DuplicatesRemoved != 1 {
		t.Errorf("duplicates_removed = %d, want 1", m.DuplicatesRemoved)
	}
	got := results[0]
	if !got.HasSource("pgvector.") || !got.HasSource("neo4j.") {
		t.Errorf("merged source = %q, want both tags", got.Source)
	}
}

func TestRetrieveLimitTruncatesRanked(t *testing.T) {
	t.Parallel()

	var many []memory.Result
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		many = append(many, vectorResult(id, 0.5))
	}
	vector := &mock.Retriever{RetrieverName: "vector", SearchResult: many}
	graph := &mock.Retriever{RetrieverName: "graph"}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default())
	results, m, err := agg.Retrieve(context.Background(), "query", memory.SearchOptions{Limit: 3}, StrategyEnsemble)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 3 || m.ResultCount != 3 {
		t.Errorf("got %d results (metrics %d), want 3", len(results), m.ResultCount)
	}
}

func TestRetrieveGraphTraversalTwoEntities(t *testing.T) {
	t.Parallel()

	tr := &fakeTraverser{paths: []memory.Result{
		{ID: "p1", Content: "alice emailed bob", Score: 0.5, Source: "neo4j.relationship_path"},
	}}
	vector := &mock.Retriever{RetrieverName: "vector"}
	graph := &mock.Retriever{RetrieverName: "graph"}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default(), WithTraverser(tr))
	results, m, err := agg.Retrieve(context.Background(), "How are Alice and Bob connected?", memory.SearchOptions{UserID: "u1"}, StrategyGraphTraversal)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].ID != "p1" {
		t.Fatalf("results = %+v", results)
	}
	if m.Strategy != StrategyGraphTraversal {
		t.Errorf("strategy = %s", m.Strategy)
	}
	if len(tr.pathCalls) != 1 {
		t.Fatalf("FindPathsBetween called %d times", len(tr.pathCalls))
	}
	call := tr.pathCalls[0]
	if call[0] != "Alice" || call[1] != "Bob" {
		t.Errorf("traversed %v and %v, want Alice and Bob", call[0], call[1])
	}
	if call[2] != memory.DefaultTraversalDepth {
		t.Errorf("depth = %v", call[2])
	}
	if call[3] != "u1" {
		t.Errorf("user id = %v", call[3])
	}
	if n := vector.CallCount("Search") + graph.CallCount("Search"); n != 0 {
		t.Errorf("retrievers searched %d times during traversal", n)
	}
}

func TestRetrieveGraphTraversalSingleEntity(t *testing.T) {
	t.Parallel()

	tr := &fakeTraverser{mentions: []memory.Result{
		{ID: "m1", Content: "alice joined the call", Score: 0.4, Source: "neo4j.entity_name"},
	}}
	agg := NewAggregator(&mock.Retriever{}, &mock.Retriever{}, rank.New(), slog.Default(), WithTraverser(tr))

	results, _, err := agg.Retrieve(context.Background(), "what do we know about Alice", memory.SearchOptions{}, StrategyGraphTraversal)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m1" {
		t.Fatalf("results = %+v", results)
	}
	if len(tr.mentionCalls) != 1 {
		t.Errorf("FindEntityMentions called %d times, want 1", len(tr.mentionCalls))
	}
}

func TestRetrieveGraphTraversalFallsBackWithoutEntities(t *testing.T) {
	t.Parallel()

	tr := &fakeTraverser{}
	vector := &mock.Retriever{RetrieverName: "vector", SearchResult: []memory.Result{vectorResult("c1", 0.9)}}
	graph := &mock.Retriever{RetrieverName: "graph"}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default(), WithTraverser(tr))
	results, m, err := agg.Retrieve(context.Background(), "what did we decide about caching", memory.SearchOptions{}, StrategyGraphTraversal)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if m.Strategy != StrategyHybrid {
		t.Errorf("strategy = %s, want fallback to %s", m.Strategy, StrategyHybrid)
	}
	if len(results) != 1 {
		t.Errorf("got %d results", len(results))
	}
	if len(tr.pathCalls)+len(tr.mentionCalls) != 0 {
		t.Error("traverser should not run without entities")
	}
}

func TestRetrieveGraphTraversalErrorFallsBack(t *testing.T) {
	t.Parallel()

	tr := &fakeTraverser{err: errors.New("neo4j down")}
	vector := &mock.Retriever{RetrieverName: "vector", SearchResult: []memory.Result{vectorResult("c1", 0.9)}}
	graph := &mock.Retriever{RetrieverName: "graph"}

	agg := NewAggregator(vector, graph, rank.New(), slog.Default(), WithTraverser(tr))
	results, m, err := agg.Retrieve(context.Background(), "How are Alice and Bob connected?", memory.SearchOptions{}, StrategyGraphTraversal)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if m.Strategy != StrategyHybrid {
		t.Errorf("strategy = %s, want fallback", m.Strategy)
	}
	if m.SourceErrors["traversal"] == "" {
		t.Error("traversal failure not recorded")
	}
	if len(results) != 1 {
		t.Errorf("got %d results", len(results))
	}
}
