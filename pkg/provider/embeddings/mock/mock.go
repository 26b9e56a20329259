// Package mock provides a deterministic in-memory test double for the
// embeddings.Provider interface.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/mnemovox/mnemovox/pkg/provider/embeddings"
)

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a configurable test double for [embeddings.Provider].
//
// By default it derives a deterministic pseudo-vector from each input text,
// so identical texts embed identically and distinct texts (almost always)
// differ. Tests needing exact vectors can pre-seed Vectors. Safe for
// concurrent use.
type Provider struct {
	mu    sync.Mutex
	texts []string

	// Dim is the vector length; zero defaults to 8.
	Dim int

	// Vectors maps exact input texts to fixed vectors, overriding the
	// derived ones.
	Vectors map[string][]float32

	// Err is returned by Embed and EmbedBatch when non-nil.
	Err error
}

// Texts returns a copy of every text embedded so far, in order.
func (m *Provider) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}

// Embed implements [embeddings.Provider].
func (m *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	return m.vector(text), nil
}

// EmbedBatch implements [embeddings.Provider].
func (m *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	m.mu.Lock()
	m.texts = append(m.texts, texts...)
	m.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

// Dimensions implements [embeddings.Provider].
func (m *Provider) Dimensions() int {
	if m.Dim <= 0 {
		return 8
	}
	return m.Dim
}

// ModelID implements [embeddings.Provider].
func (m *Provider) ModelID() string { return "mock-embed" }

func (m *Provider) vector(text string) []float32 {
	if v, ok := m.Vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	dim := m.Dimensions()
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	out := make([]float32, dim)
	for i := range out {
		seed = seed*6364136223846793005 + 1442695040888963407
		out[i] = float32(seed%1000)/1000 - 0.5
	}
	return out
}
