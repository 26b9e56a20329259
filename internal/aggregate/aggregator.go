package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemovox/mnemovox/internal/observe"
	"github.com/mnemovox/mnemovox/internal/rank"
	"github.com/mnemovox/mnemovox/pkg/memory"
)

const (
	// DefaultLimit is the result budget when the caller does not set one.
	DefaultLimit = 10

	// DefaultTimeout bounds one whole aggregation pass.
	DefaultTimeout = 10 * time.Second

	// overFetchFactor gives each retriever headroom above its budget share
	// so deduplication does not starve the merged set.
	overFetchFactor = 1.5
)

// Traverser is the direct graph-walk surface used by the graph_traversal
// strategy. *retrieval.GraphRetriever satisfies it.
type Traverser interface {
	FindEntityMentions(ctx context.Context, name string, entityType memory.EntityType, userID string, limit int) ([]memory.Result, error)
	FindPathsBetween(ctx context.Context, nameA, nameB string, maxDepth int, userID string, limit int) ([]memory.Result, error)
}

// Metrics describes one aggregation pass.
type Metrics struct {
	Strategy Strategy      `json:"strategy"`
	Preset   rank.Preset   `json:"preset"`
	Features QueryFeatures `json:"features"`

	// Stages maps stage name to elapsed time ("vector", "graph",
	// "traversal", "rank").
	Stages map[string]time.Duration `json:"stages"`

	// SourceCounts maps retriever name to the number of results it
	// contributed before deduplication.
	SourceCounts map[string]int `json:"source_counts"`

	// SourceErrors maps retriever name to the error text for sources that
	// failed and were skipped.
	SourceErrors map[string]string `json:"source_errors,omitempty"`

	DuplicatesRemoved int           `json:"duplicates_removed"`
	ResultCount       int           `json:"result_count"`
	Total             time.Duration `json:"total"`
}

// Aggregator fans a query out across the vector and graph retrievers, merges
// and deduplicates the result sets, and hands them to the ranker. A single
// failed retriever degrades the result set instead of failing the pass; the
// pass errors only when it produces nothing usable at all.
type Aggregator struct {
	vector    memory.Retriever
	graph     memory.Retriever
	traverser Traverser
	ranker    *rank.Ranker
	logger    *slog.Logger
	timeout   time.Duration
}

// AggregatorOption is a functional option for [NewAggregator].
type AggregatorOption func(*Aggregator)

// WithTraverser enables the graph_traversal strategy. Without it, traversal
// requests fall back to the hybrid plan.
func WithTraverser(t Traverser) AggregatorOption {
	return func(a *Aggregator) { a.traverser = t }
}

// WithTimeout bounds one aggregation pass. Zero disables the bound.
func WithTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.timeout = d }
}

// NewAggregator creates an Aggregator over the two retrievers.
func NewAggregator(vector, graph memory.Retriever, ranker *rank.Ranker, logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		vector:  vector,
		graph:   graph,
		ranker:  ranker,
		logger:  logger.With("component", "aggregate"),
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Retrieve runs the full pass: analyze, plan, retrieve, dedupe, rank.
// The requested strategy may be "adaptive"; the metrics report the plan it
// resolved to.
func (a *Aggregator) Retrieve(ctx context.Context, query string, opts memory.SearchOptions, requested Strategy) ([]rank.Ranked, Metrics, error) {
	ctx, span := observe.StartSpan(ctx, "aggregate retrieve")
	defer span.End()

	start := time.Now()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	features := AnalyzeQuery(query)
	plan := SelectStrategy(requested, features)

	m := Metrics{
		Strategy:     plan.Strategy,
		Preset:       plan.Preset,
		Features:     features,
		Stages:       map[string]time.Duration{},
		SourceCounts: map[string]int{},
	}

	var raw []memory.Result
	if plan.Strategy == StrategyGraphTraversal {
		results, fellBack := a.traverse(ctx, features, opts, limit, &m)
		if fellBack {
			plan = SelectStrategy(StrategyHybrid, features)
			m.Strategy = plan.Strategy
			m.Preset = plan.Preset
		} else {
			raw = results
		}
	}
	if raw == nil && plan.Strategy != StrategyGraphTraversal {
		raw = a.fanOut(ctx, query, opts, plan, limit, &m)
	}

	merged, removed := Dedupe(raw)
	m.DuplicatesRemoved = removed

	rankStart := time.Now()
	ranked := a.ranker.Rank(merged, query, plan.Preset)
	m.Stages["rank"] = time.Since(rankStart)

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	m.ResultCount = len(ranked)
	m.Total = time.Since(start)

	if len(ranked) == 0 && len(m.SourceErrors) > 0 && len(m.SourceErrors) == sourcesAttempted(m) {
		return nil, m, fmt.Errorf("aggregate: all sources failed: %v", m.SourceErrors)
	}

	a.logger.Debug("aggregation complete",
		"strategy", m.Strategy,
		"results", m.ResultCount,
		"duplicates_removed", m.DuplicatesRemoved,
		"duration", m.Total,
	)
	return ranked, m, nil
}

// sourceOutcome is one retriever's contribution, written by its goroutine
// and folded into the metrics only after the group finishes.
type sourceOutcome struct {
	name    string
	results []memory.Result
	elapsed time.Duration
	err     error
}

// fanOut runs the retrievers the plan weights, concurrently when both run.
// A retriever failure is recorded and its contribution dropped.
func (a *Aggregator) fanOut(ctx context.Context, query string, opts memory.SearchOptions, plan Plan, limit int, m *Metrics) []memory.Result {
	outcomes := make([]*sourceOutcome, 0, 2)

	g, gctx := errgroup.WithContext(ctx)
	run := func(r memory.Retriever, weight float64) {
		o := &sourceOutcome{name: r.Name()}
		outcomes = append(outcomes, o)
		budget := shareLimit(limit, weight)
		g.Go(func() error {
			scoped := opts
			scoped.Limit = budget
			start := time.Now()
			o.results, o.err = r.Search(gctx, query, scoped)
			o.elapsed = time.Since(start)
			return nil
		})
	}
	if plan.VectorWeight > 0 {
		run(a.vector, plan.VectorWeight)
	}
	if plan.GraphWeight > 0 {
		run(a.graph, plan.GraphWeight)
	}
	_ = g.Wait()

	var merged []memory.Result
	for _, o := range outcomes {
		a.recordStage(m, o.name, o.elapsed)
		if o.err != nil {
			a.recordError(m, o.name, o.err)
			a.logger.Warn("retriever failed, continuing without it", "retriever", o.name, "error", o.err)
			continue
		}
		a.recordCount(m, o.name, len(o.results))
		merged = append(merged, o.results...)
	}
	return merged
}

// traverse serves the graph_traversal strategy: a direct relationship walk
// for two named entities, a mention lookup for one. With no entities (or no
// traverser wired) it reports a fallback to the hybrid plan.
func (a *Aggregator) traverse(ctx context.Context, features QueryFeatures, opts memory.SearchOptions, limit int, m *Metrics) (results []memory.Result, fellBack bool) {
	if a.traverser == nil || features.EntityCount() == 0 {
		return nil, true
	}

	start := time.Now()
	var err error
	switch {
	case features.EntityCount() >= 2:
		results, err = a.traverser.FindPathsBetween(ctx, features.Entities[0], features.Entities[1], memory.DefaultTraversalDepth, opts.UserID, limit)
	default:
		results, err = a.traverser.FindEntityMentions(ctx, features.Entities[0], "", opts.UserID, limit)
	}
	a.recordStage(m, "traversal", time.Since(start))
	if err != nil {
		a.recordError(m, "traversal", err)
		a.logger.Warn("graph traversal failed, falling back to hybrid", "error", err)
		return nil, true
	}
	a.recordCount(m, "traversal", len(results))
	return memory.ApplyFilters(results, opts.Filters), false
}

func (a *Aggregator) recordStage(m *Metrics, name string, d time.Duration) {
	m.Stages[name] = d
}

func (a *Aggregator) recordCount(m *Metrics, name string, n int) {
	m.SourceCounts[name] = n
}

func (a *Aggregator) recordError(m *Metrics, name string, err error) {
	if m.SourceErrors == nil {
		m.SourceErrors = map[string]string{}
	}
	m.SourceErrors[name] = err.Error()
}

// shareLimit turns a budget share into a per-retriever limit with over-fetch
// headroom.
func shareLimit(limit int, weight float64) int {
	n := int(math.Ceil(float64(limit) * weight * overFetchFactor))
	if n < 1 {
		n = 1
	}
	return n
}

func sourcesAttempted(m Metrics) int {
	names := map[string]struct{}{}
	for n := range m.SourceCounts {
		names[n] = struct{}{}
	}
	for n := range m.SourceErrors {
		names[n] = struct{}{}
	}
	return len(names)
}
