// Package types defines the shared types used across all Mnemovox packages.
//
// These types form the lingua franca between providers, the ingestion
// pipeline, the memory layers, and the chat service. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single frame of decoded audio flowing into the STT
// provider. Frames are produced by the upload decoder from whatever container
// the user submitted (WAV, raw PCM).
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are determined by the
	// decoder.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for whisper input).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo source material.
	Channels int

	// Timestamp marks when this frame starts, relative to recording start.
	Timestamp time.Duration
}

// Recording identifies one uploaded audio file. The engine treats the audio
// itself as opaque — only the identifier, the owner, and the transcript
// produced from it matter downstream.
type Recording struct {
	// ID is the stable unique identifier assigned at upload time.
	ID string

	// UserID is the owning user. All derived chunks and vector entries carry
	// this id; retrieval is scoped to it.
	UserID string

	// Filename is the original upload filename, kept for display only.
	Filename string

	// Language is the BCP-47 language tag of the recording ("en", "de", …).
	// Empty means auto-detect at transcription time.
	Language string

	// CreatedAt is when the recording was uploaded.
	CreatedAt time.Time
}

// Transcript is the full speech-to-text result for one recording.
type Transcript struct {
	// RecordingID is the recording this transcript was produced from.
	RecordingID string

	// UserID is the owning user, copied from the recording.
	UserID string

	// Text is the transcribed speech content.
	Text string

	// Language is the language tag reported by the STT provider.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Segments contains per-segment detail when available. May be nil for
	// providers that don't produce segment-level output.
	Segments []TranscriptSegment

	// CreatedAt is when transcription finished.
	CreatedAt time.Time
}

// TranscriptSegment holds per-segment metadata from STT providers that
// support it.
type TranscriptSegment struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any

	// Idempotent indicates whether the tool can be safely retried.
	Idempotent bool
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
