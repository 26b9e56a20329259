package aggregate

import "github.com/mnemovox/mnemovox/internal/rank"

// Strategy is a named retrieval plan.
type Strategy string

const (
	StrategyVectorOnly     Strategy = "vector_only"
	StrategyGraphOnly      Strategy = "graph_only"
	StrategyHybrid         Strategy = "hybrid"
	StrategyEnsemble       Strategy = "ensemble"
	StrategyAdaptive       Strategy = "adaptive"
	StrategyGraphTraversal Strategy = "graph_traversal"
)

// Plan is a resolved retrieval plan: which retrievers run, with what share
// of the result budget, and which ranking preset applies afterwards.
type Plan struct {
	// Strategy is the resolved strategy ("adaptive" never appears here; the
	// selector resolves it to a concrete plan).
	Strategy Strategy

	// VectorWeight and GraphWeight split the result budget between the two
	// retrievers. They sum to 1 for plans that run both.
	VectorWeight float64
	GraphWeight  float64

	// Preset is the ranking preset applied after deduplication.
	Preset rank.Preset
}

// SelectStrategy resolves the requested strategy against the query features.
// Only "adaptive" consults the features:
//
//   - more than two entities: hybrid weighted toward the graph;
//   - semantic shape with no entities: hybrid weighted toward the vector
//     store;
//   - temporal cues: ensemble with the recency boost;
//   - otherwise: plain ensemble.
func SelectStrategy(requested Strategy, f QueryFeatures) Plan {
	switch requested {
	case StrategyVectorOnly:
		return Plan{Strategy: StrategyVectorOnly, VectorWeight: 1, Preset: rank.PresetSemanticOnly}
	case StrategyGraphOnly:
		return Plan{Strategy: StrategyGraphOnly, GraphWeight: 1, Preset: rank.PresetStructuralOnly}
	case StrategyHybrid:
		return Plan{Strategy: StrategyHybrid, VectorWeight: 0.5, GraphWeight: 0.5, Preset: rank.PresetHybrid}
	case StrategyEnsemble:
		return Plan{Strategy: StrategyEnsemble, VectorWeight: 0.5, GraphWeight: 0.5, Preset: rank.PresetEnsemble}
	case StrategyGraphTraversal:
		return Plan{Strategy: StrategyGraphTraversal, GraphWeight: 1, Preset: rank.PresetStructuralOnly}
	}

	switch {
	case f.EntityCount() > 2:
		return Plan{Strategy: StrategyHybrid, VectorWeight: 0.4, GraphWeight: 0.6, Preset: rank.PresetEntityFocused}
	case f.Semantic && f.EntityCount() == 0:
		return Plan{Strategy: StrategyHybrid, VectorWeight: 0.8, GraphWeight: 0.2, Preset: rank.PresetSemanticOnly}
	case f.Temporal:
		return Plan{Strategy: StrategyEnsemble, VectorWeight: 0.5, GraphWeight: 0.5, Preset: rank.PresetTemporalBoost}
	default:
		return Plan{Strategy: StrategyEnsemble, VectorWeight: 0.5, GraphWeight: 0.5, Preset: rank.PresetEnsemble}
	}
}
