// Package stt defines the Provider interface for speech-to-text backends.
//
// Mnemovox transcribes uploaded recordings as a batch step of the ingestion
// pipeline, so the surface is a single blocking Transcribe call rather than
// a streaming session. Providers accept a complete audio file (WAV) and
// return the full transcript with optional per-segment timing.
//
// Implementations must be safe for concurrent use; the ingestion workers
// transcribe several recordings in parallel.
package stt

import (
	"context"
	"time"
)

// Options carries per-call transcription hints.
type Options struct {
	// Language is the BCP-47 language tag (e.g. "en", "de"). Empty lets the
	// provider auto-detect when supported.
	Language string

	// Model selects a backend-specific model; empty uses the backend
	// default.
	Model string
}

// Segment is one timed span of the transcript, when the backend reports
// segment boundaries.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Result is a completed transcription.
type Result struct {
	// Text is the full transcript, segments joined in order.
	Text string

	// Language is the detected or requested language tag.
	Language string

	// Confidence is the overall confidence (0.0–1.0); zero when the backend
	// does not report one.
	Confidence float64

	// Segments holds per-segment timing when available; may be nil.
	Segments []Segment
}

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Transcribe converts a complete WAV audio file to text. It blocks until
	// transcription finishes, the backend fails, or ctx is cancelled.
	Transcribe(ctx context.Context, wav []byte, opts Options) (*Result, error)
}
