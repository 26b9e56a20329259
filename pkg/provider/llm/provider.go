// Package llm defines the Provider interface for Large Language Model
// backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, …) behind a uniform surface so that the chat engine and
// the entity extractor never couple to a specific SDK.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/mnemovox/mnemovox/pkg/types"
)

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and differ between providers for the same text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens; some providers return
	// it directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation, last message driving the
	// response.
	Messages []types.Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system channel prepend
	// it as a "system"-role message.
	SystemPrompt string

	// Tools offered to the model. Check Capabilities().SupportsToolCalling
	// before setting this.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0]; 0 uses the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length; 0 uses the provider default.
	MaxTokens int
}

// CompletionResponse is the full result of a non-streaming completion.
type CompletionResponse struct {
	// Content is the model's text output.
	Content string

	// ToolCalls lists the tool invocations the model requested, if any.
	ToolCalls []types.ToolCall

	// Usage is the backend-reported token accounting; zero when the backend
	// did not report one.
	Usage Usage
}

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, a finish signal, tool calls, or any combination.
type Chunk struct {
	// Text is the incremental text content; may be empty.
	Text string

	// FinishReason is set on the final chunk: "stop", "length",
	// "tool_calls", or "error".
	FinishReason string

	// ToolCalls carries fully accumulated tool invocations, emitted with the
	// final chunk.
	ToolCalls []types.ToolCall
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete performs a blocking completion and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion starts a streaming completion. The returned channel
	// is closed when generation finishes, fails, or ctx is cancelled; a
	// failure surfaces as a final chunk with FinishReason "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Capabilities reports what the configured model supports.
	Capabilities() types.ModelCapabilities
}

// EstimateTokens gives a rough token count for budgeting prompts before the
// backend sees them. Roughly four characters per token plus a small
// per-message overhead; good enough for window budgeting, not billing.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
