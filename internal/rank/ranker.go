// Package rank combines heterogeneous retrieval results under one
// explainable score. Each result is scored on a set of weighted factors
// (semantic similarity, graph centrality, recency, entity overlap, content
// quality); a strategy preset may scale individual factor scores before
// weighting. The unified score is clamped to [0, 1] and every result carries
// a per-factor explanation record.
package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// Factor names used in weights, presets, and explanations.
const (
	FactorSemantic = "semantic"
	FactorGraph    = "graph"
	FactorRecency  = "recency"
	FactorOverlap  = "entity_overlap"
	FactorQuality  = "quality"
)

// Preset names a set of factor-score multipliers applied before weighting.
type Preset string

const (
	PresetSemanticOnly   Preset = "semantic-only"
	PresetStructuralOnly Preset = "structural-only"
	PresetTemporalBoost  Preset = "temporal-boost"
	PresetEntityFocused  Preset = "entity-focused"
	PresetEnsemble       Preset = "ensemble"
	PresetHybrid         Preset = "hybrid"
)

// presetMultipliers maps each preset to its factor multipliers. Factors not
// listed keep a multiplier of 1. Scaled scores are capped at 1.
var presetMultipliers = map[Preset]map[string]float64{
	PresetSemanticOnly: {
		FactorSemantic: 1.2,
		FactorGraph:    0.5, FactorRecency: 0.5, FactorOverlap: 0.5, FactorQuality: 0.5,
	},
	PresetStructuralOnly: {
		FactorGraph:    1.2,
		FactorSemantic: 0.5, FactorRecency: 0.5, FactorOverlap: 0.5, FactorQuality: 0.5,
	},
	PresetTemporalBoost: {
		FactorRecency: 1.5,
	},
	PresetEntityFocused: {
		FactorOverlap: 1.3, FactorGraph: 1.3,
	},
}

// Weights holds the relative factor weights. They are normalised to sum to 1
// at scoring time, so callers can use any non-negative scale.
type Weights struct {
	Semantic float64
	Graph    float64
	Recency  float64
	Overlap  float64
	Quality  float64
}

// DefaultWeights are the shipping factor weights.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.4, Graph: 0.3, Recency: 0.2, Overlap: 0.1, Quality: 0}
}

func (w Weights) sum() float64 {
	return w.Semantic + w.Graph + w.Recency + w.Overlap + w.Quality
}

// FactorScore is one factor's contribution to a result's unified score.
type FactorScore struct {
	// Name is the factor ("semantic", "graph", …).
	Name string `json:"name"`

	// Raw is the factor score before the preset multiplier.
	Raw float64 `json:"raw"`

	// Scaled is the factor score after the preset multiplier, capped at 1.
	Scaled float64 `json:"scaled"`

	// Weight is the normalised weight applied to Scaled.
	Weight float64 `json:"weight"`

	// Contribution is Scaled × Weight, the amount added to the unified
	// score.
	Contribution float64 `json:"contribution"`
}

// Explanation is the per-result scoring breakdown.
type Explanation struct {
	// Unified is the final score in [0, 1].
	Unified float64 `json:"unified"`

	// Preset is the strategy preset that was applied.
	Preset Preset `json:"preset"`

	// Factors lists every factor's contribution.
	Factors []FactorScore `json:"factors"`
}

// Ranked pairs a result with its explanation. Result.Score is replaced by
// the unified score.
type Ranked struct {
	memory.Result
	Explanation Explanation
}

// Ranker scores and orders retrieval results.
type Ranker struct {
	weights Weights
	now     func() time.Time
}

// Option is a functional option for [New].
type Option func(*Ranker)

// WithWeights overrides the default factor weights.
func WithWeights(w Weights) Option {
	return func(r *Ranker) { r.weights = w }
}

// withClock overrides the recency clock in tests.
func withClock(now func() time.Time) Option {
	return func(r *Ranker) { r.now = now }
}

// New creates a Ranker.
func New(opts ...Option) *Ranker {
	r := &Ranker{weights: DefaultWeights(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rank scores every result against the query under the given preset and
// returns them best first. The input slice is not modified.
func (r *Ranker) Rank(results []memory.Result, query string, preset Preset) []Ranked {
	queryWords := wordSet(query)

	total := r.weights.sum()
	if total <= 0 {
		total = 1
	}
	norm := Weights{
		Semantic: r.weights.Semantic / total,
		Graph:    r.weights.Graph / total,
		Recency:  r.weights.Recency / total,
		Overlap:  r.weights.Overlap / total,
		Quality:  r.weights.Quality / total,
	}

	ranked := make([]Ranked, 0, len(results))
	for _, res := range results {
		factors := []FactorScore{
			r.factor(FactorSemantic, semanticScore(res, queryWords), norm.Semantic, preset),
			r.factor(FactorGraph, graphScore(res), norm.Graph, preset),
			r.factor(FactorRecency, r.recencyScore(res), norm.Recency, preset),
			r.factor(FactorOverlap, overlapScore(res, queryWords), norm.Overlap, preset),
			r.factor(FactorQuality, qualityScore(res.Content), norm.Quality, preset),
		}

		unified := 0.0
		for _, f := range factors {
			unified += f.Contribution
		}
		unified = clamp01(unified)

		out := res
		out.Score = unified
		ranked = append(ranked, Ranked{
			Result: out,
			Explanation: Explanation{
				Unified: unified,
				Preset:  preset,
				Factors: factors,
			},
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

func (r *Ranker) factor(name string, raw, weight float64, preset Preset) FactorScore {
	scaled := raw
	if m, ok := presetMultipliers[preset][name]; ok {
		scaled = raw * m
	}
	if scaled > 1 {
		scaled = 1
	}
	return FactorScore{
		Name:         name,
		Raw:          raw,
		Scaled:       scaled,
		Weight:       weight,
		Contribution: scaled * weight,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Factor scores
// ─────────────────────────────────────────────────────────────────────────────

// semanticScore uses the result's own vector score when the result came from
// the vector store; otherwise it falls back to a word-overlap ratio between
// query and content.
func semanticScore(res memory.Result, queryWords map[string]struct{}) float64 {
	if res.HasSource("pgvector.") {
		return clamp01(res.Score)
	}
	if len(queryWords) == 0 {
		return 0
	}
	contentWords := wordSet(res.Content)
	if len(contentWords) == 0 {
		return 0
	}
	matches := 0
	for w := range queryWords {
		if _, ok := contentWords[w]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryWords))
}

// graphScore uses the result's structural score when it came from the graph;
// otherwise a bounded function of how entity-connected the result is.
func graphScore(res memory.Result) float64 {
	if res.HasSource("neo4j.") {
		return clamp01(res.Score)
	}
	connected := res.EntityCount() + len(res.Relationships)
	return clamp01(float64(connected) / 10)
}

// recencyScore maps timestamp age onto the piecewise recency table. Missing
// timestamps score 0.5.
func (r *Ranker) recencyScore(res memory.Result) float64 {
	ts := res.Timestamp
	if ts.IsZero() {
		if parsed, err := time.Parse(time.RFC3339, res.MetaString(memory.MetaCreatedAt)); err == nil {
			ts = parsed
		}
	}
	if ts.IsZero() {
		return 0.5
	}

	age := r.now().Sub(ts)
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.9
	case age <= 30*24*time.Hour:
		return 0.8
	case age <= 90*24*time.Hour:
		return 0.6
	case age <= 365*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

// overlapScore is the intersection between the result's entity surfaces and
// the query words, normalised by the smaller set.
func overlapScore(res memory.Result, queryWords map[string]struct{}) float64 {
	if len(res.Entities) == 0 || len(queryWords) == 0 {
		return 0
	}
	entityWords := map[string]struct{}{}
	for _, e := range res.Entities {
		for w := range wordSet(e) {
			entityWords[w] = struct{}{}
		}
	}
	if len(entityWords) == 0 {
		return 0
	}

	matches := 0
	for w := range entityWords {
		if _, ok := queryWords[w]; ok {
			matches++
		}
	}
	smaller := len(entityWords)
	if len(queryWords) < smaller {
		smaller = len(queryWords)
	}
	return float64(matches) / float64(smaller)
}

// qualityScore combines a length band (mid-length favoured) with a crude
// sentences-per-word readability proxy.
func qualityScore(content string) float64 {
	words := len(strings.Fields(content))
	if words == 0 {
		return 0
	}

	var lengthBand float64
	switch {
	case words < 20:
		lengthBand = 0.3
	case words <= 300:
		lengthBand = 1.0
	case words <= 600:
		lengthBand = 0.7
	default:
		lengthBand = 0.4
	}

	sentences := strings.Count(content, ".") + strings.Count(content, "!") + strings.Count(content, "?")
	if sentences == 0 {
		sentences = 1
	}
	wordsPerSentence := float64(words) / float64(sentences)
	// Around 15-25 words per sentence reads well; further out degrades.
	readability := 1 - math.Abs(wordsPerSentence-20)/40
	readability = clamp01(readability)

	return clamp01(0.6*lengthBand + 0.4*readability)
}

func wordSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
