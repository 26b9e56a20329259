package rank

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

func fixedClock(t time.Time) Option {
	return withClock(func() time.Time { return t })
}

func TestRecencyTable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := New(fixedClock(now))

	cases := []struct {
		ageDays int
		want    float64
	}{
		{0, 1.0},
		{7, 0.9},
		{30, 0.8},
		{90, 0.6},
		{365, 0.4},
		{366, 0.2},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%dd", tc.ageDays), func(t *testing.T) {
			t.Parallel()
			res := memory.Result{Timestamp: now.Add(-time.Duration(tc.ageDays) * 24 * time.Hour)}
			if got := r.recencyScore(res); got != tc.want {
				t.Errorf("age %dd: score = %v, want %v", tc.ageDays, got, tc.want)
			}
		})
	}

	t.Run("missing timestamp", func(t *testing.T) {
		t.Parallel()
		if got := r.recencyScore(memory.Result{}); got != 0.5 {
			t.Errorf("score = %v, want 0.5", got)
		}
	})

	t.Run("timestamp from metadata", func(t *testing.T) {
		t.Parallel()
		res := memory.Result{Metadata: map[string]any{
			memory.MetaCreatedAt: now.Add(-2 * 24 * time.Hour).Format(time.RFC3339),
		}}
		if got := r.recencyScore(res); got != 0.9 {
			t.Errorf("score = %v, want 0.9", got)
		}
	})
}

func TestSemanticScoreVectorResultUsesOwnScore(t *testing.T) {
	t.Parallel()

	res := memory.Result{Score: 0.8, Source: "pgvector.memory_chunks"}
	if got := semanticScore(res, wordSet("anything")); got != 0.8 {
		t.Errorf("score = %v, want 0.8", got)
	}
}

func TestSemanticScoreFallbackWordOverlap(t *testing.T) {
	t.Parallel()

	res := memory.Result{
		Content: "we discussed scaling distributed caches yesterday",
		Source:  "neo4j.text_content",
	}
	got := semanticScore(res, wordSet("scaling distributed caches"))
	if got != 1 {
		t.Errorf("score = %v, want 1 (all query words present)", got)
	}

	got = semanticScore(res, wordSet("scaling elephants"))
	if got != 0.5 {
		t.Errorf("score = %v, want 0.5", got)
	}
}

func TestGraphScoreFallback(t *testing.T) {
	t.Parallel()

	graphRes := memory.Result{Score: 0.7, Source: "neo4j.entity_name"}
	if got := graphScore(graphRes); got != 0.7 {
		t.Errorf("graph result score = %v, want 0.7", got)
	}

	vecRes := memory.Result{
		Source:   "pgvector.memory_chunks",
		Entities: []string{"a", "b", "c"},
	}
	if got := graphScore(vecRes); got != 0.3 {
		t.Errorf("fallback score = %v, want 0.3", got)
	}
}

func TestOverlapScore(t *testing.T) {
	t.Parallel()

	res := memory.Result{Entities: []string{"Alice", "Acme Corp"}}
	got := overlapScore(res, wordSet("who did alice meet at acme"))
	// Entity words {alice, acme, corp}; 2 of 3 in query; smaller set is the
	// entity set.
	want := 2.0 / 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want %v", got, want)
	}

	if got := overlapScore(memory.Result{}, wordSet("alice")); got != 0 {
		t.Errorf("no entities score = %v, want 0", got)
	}
}

func TestRankOrderPreservingUnderScaling(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := New(fixedClock(now))

	low := memory.Result{ID: "low", Score: 0.3, Source: "pgvector.c", Timestamp: now}
	high := memory.Result{ID: "high", Score: 0.9, Source: "pgvector.c", Timestamp: now}

	base := r.Rank([]memory.Result{low, high}, "query", PresetEnsemble)
	boosted := r.Rank([]memory.Result{low, high}, "query", PresetSemanticOnly)

	if base[0].ID != "high" || boosted[0].ID != "high" {
		t.Errorf("order changed under preset scaling: base %s, boosted %s", base[0].ID, boosted[0].ID)
	}
}

func TestRankUnifiedScoreClamped(t *testing.T) {
	t.Parallel()

	r := New()
	ranked := r.Rank([]memory.Result{
		{ID: "x", Score: 1, Source: "pgvector.c", Timestamp: time.Now(), Entities: []string{"q"}},
	}, "q", PresetEnsemble)

	if s := ranked[0].Score; s < 0 || s > 1 {
		t.Errorf("unified score %v outside [0,1]", s)
	}
	if ranked[0].Score != ranked[0].Explanation.Unified {
		t.Error("result score and explanation disagree")
	}
}

func TestPresetMultipliersCapAtOne(t *testing.T) {
	t.Parallel()

	r := New()
	f := r.factor(FactorRecency, 0.9, 0.2, PresetTemporalBoost)
	if f.Scaled != 1 {
		t.Errorf("scaled = %v, want capped at 1 (0.9 × 1.5)", f.Scaled)
	}
	if f.Raw != 0.9 {
		t.Errorf("raw = %v, want 0.9", f.Raw)
	}
	if math.Abs(f.Contribution-0.2) > 1e-9 {
		t.Errorf("contribution = %v, want 0.2", f.Contribution)
	}
}

func TestRankExplanationsComplete(t *testing.T) {
	t.Parallel()

	r := New()
	ranked := r.Rank([]memory.Result{
		{ID: "x", Score: 0.5, Source: "neo4j.entity_name", Content: "alice spoke"},
	}, "alice", PresetEntityFocused)

	exp := ranked[0].Explanation
	if exp.Preset != PresetEntityFocused {
		t.Errorf("preset = %q", exp.Preset)
	}
	if len(exp.Factors) != 5 {
		t.Fatalf("got %d factors, want 5", len(exp.Factors))
	}
	var sum float64
	names := map[string]bool{}
	for _, f := range exp.Factors {
		names[f.Name] = true
		sum += f.Contribution
	}
	for _, want := range []string{FactorSemantic, FactorGraph, FactorRecency, FactorOverlap, FactorQuality} {
		if !names[want] {
			t.Errorf("missing factor %q", want)
		}
	}
	if math.Abs(sum-exp.Unified) > 1e-9 {
		t.Errorf("factor contributions sum to %v, unified is %v", sum, exp.Unified)
	}
}

func TestWeightsNormalised(t *testing.T) {
	t.Parallel()

	// Doubling every weight must not change the unified score.
	a := New(WithWeights(Weights{Semantic: 0.4, Graph: 0.3, Recency: 0.2, Overlap: 0.1}))
	b := New(WithWeights(Weights{Semantic: 0.8, Graph: 0.6, Recency: 0.4, Overlap: 0.2}))

	res := memory.Result{ID: "x", Score: 0.7, Source: "pgvector.c", Timestamp: time.Now()}
	ra := a.Rank([]memory.Result{res}, "query", PresetEnsemble)
	rb := b.Rank([]memory.Result{res}, "query", PresetEnsemble)

	if math.Abs(ra[0].Score-rb[0].Score) > 1e-9 {
		t.Errorf("scores differ under scaled weights: %v vs %v", ra[0].Score, rb[0].Score)
	}
}
