// Package mock provides an in-memory test double for the llm.Provider
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/mnemovox/mnemovox/pkg/provider/llm"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Provider is a configurable test double for [llm.Provider]. It is safe for
// concurrent use.
type Provider struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest

	// CompleteResponse is returned by Complete. When nil, Complete returns a
	// response with Content "ok".
	CompleteResponse *llm.CompletionResponse

	// CompleteErr is returned by Complete when non-nil.
	CompleteErr error

	// CompleteFunc, when set, overrides CompleteResponse/CompleteErr
	// entirely. Useful for scripted multi-turn behaviour.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// StreamChunks are emitted by StreamCompletion, in order.
	StreamChunks []llm.Chunk

	// StreamErr is returned by StreamCompletion when non-nil.
	StreamErr error

	// Caps is returned by Capabilities; zero value enables streaming and
	// tool calling with a 128k window.
	Caps types.ModelCapabilities
}

// Requests returns a copy of every CompletionRequest seen so far.
func (m *Provider) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request, or nil when none were made.
func (m *Provider) LastRequest() *llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	req := m.requests[len(m.requests)-1]
	return &req
}

// Complete implements [llm.Provider].
func (m *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if m.CompleteErr != nil {
		return nil, m.CompleteErr
	}
	if m.CompleteResponse != nil {
		resp := *m.CompleteResponse
		return &resp, nil
	}
	return &llm.CompletionResponse{Content: "ok"}, nil
}

// StreamCompletion implements [llm.Provider].
func (m *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	ch := make(chan llm.Chunk, len(m.StreamChunks))
	go func() {
		defer close(ch)
		for _, c := range m.StreamChunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Capabilities implements [llm.Provider].
func (m *Provider) Capabilities() types.ModelCapabilities {
	if m.Caps == (types.ModelCapabilities{}) {
		return types.ModelCapabilities{
			SupportsToolCalling: true,
			SupportsStreaming:   true,
			ContextWindow:       128_000,
			MaxOutputTokens:     4_096,
		}
	}
	return m.Caps
}
