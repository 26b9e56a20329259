// Package ingest implements the Mnemovox ingestion pipeline: transcribe an
// uploaded recording, split the transcript into overlapping chunks, extract
// named entities, embed, and write the batch to both memory stores with
// cleanup on partial failure.
package ingest

import (
	"fmt"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// Default chunking geometry, measured in runes of the transcript.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits transcripts into overlapping positional windows. It is pure
// and deterministic: the same input always yields the same chunks with the
// same ids.
type Chunker struct {
	size    int
	overlap int
}

// ChunkerOption is a functional option for [NewChunker].
type ChunkerOption func(*Chunker)

// WithChunkSize sets the target window length in runes. Defaults to 1000.
func WithChunkSize(n int) ChunkerOption {
	return func(c *Chunker) { c.size = n }
}

// WithChunkOverlap sets the overlap between consecutive windows in runes.
// Defaults to 200.
func WithChunkOverlap(n int) ChunkerOption {
	return func(c *Chunker) { c.overlap = n }
}

// NewChunker creates a Chunker. The overlap is clamped below the window size
// so that every window advances.
func NewChunker(opts ...ChunkerOption) (*Chunker, error) {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, o := range opts {
		o(c)
	}
	if c.size <= 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d", c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("chunker: overlap must be in [0, size), got %d", c.overlap)
	}
	return c, nil
}

// Split cuts the transcript text into ordered overlapping chunks. Each window
// starts at the previous window's end minus the overlap; the last window may
// be shorter. Positions are rune offsets into text. An empty transcript
// yields no chunks.
func (c *Chunker) Split(text, recordingID, userID, language string, createdAt time.Time) []memory.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var windows [][2]int
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end >= len(runes) {
			windows = append(windows, [2]int{start, len(runes)})
			break
		}
		windows = append(windows, [2]int{start, end})
	}

	chunks := make([]memory.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = memory.Chunk{
			ID:          memory.ChunkID(recordingID, i),
			RecordingID: recordingID,
			UserID:      userID,
			Text:        string(runes[w[0]:w[1]]),
			Start:       w[0],
			End:         w[1],
			Index:       i,
			Total:       len(windows),
			Language:    language,
			CreatedAt:   createdAt,
		}
	}
	return chunks
}
