// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// A provider maps text to dense float32 vectors. The ingestion pipeline
// embeds transcript chunks before the dual-store write, and the vector
// retriever embeds queries with the same provider; mixing vectors from
// different providers in one similarity computation is a caller error.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend. All vectors
// produced by one Provider instance share the dimensionality reported by
// Dimensions.
type Provider interface {
	// Embed computes the embedding for a single text. The text is passed
	// through verbatim; any model-specific prefix ("query: ", "passage: ")
	// is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds a slice of texts in one provider call; result[i]
	// corresponds to texts[i]. On error the whole result is nil, never
	// partial.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length of this provider.
	Dimensions() int

	// ModelID returns the backend model identifier, for logging and for
	// verifying consistent model usage across restarts.
	ModelID() string
}
