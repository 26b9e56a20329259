package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
	memmock "github.com/mnemovox/mnemovox/pkg/memory/mock"
	embmock "github.com/mnemovox/mnemovox/pkg/provider/embeddings/mock"
	"github.com/mnemovox/mnemovox/pkg/provider/stt"
	sttmock "github.com/mnemovox/mnemovox/pkg/provider/stt/mock"
	"github.com/mnemovox/mnemovox/pkg/types"
)

type staticExtractor struct {
	mentions []memory.EntityMention
	err      error
}

func (s *staticExtractor) Extract(context.Context, string, string) ([]memory.EntityMention, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]memory.EntityMention, len(s.mentions))
	copy(out, s.mentions)
	return out, nil
}

func newTestPipeline(t *testing.T, transcriber stt.Provider, extractor Extractor) (*Pipeline, *memmock.VectorIndex, *memmock.EntityGraph, *memmock.Catalog) {
	t.Helper()
	chunker, err := NewChunker(WithChunkSize(40), WithChunkOverlap(10))
	if err != nil {
		t.Fatal(err)
	}
	index := &memmock.VectorIndex{}
	graph := &memmock.EntityGraph{}
	catalog := &memmock.Catalog{}
	p := NewPipeline(
		transcriber,
		chunker,
		extractor,
		&embmock.Provider{},
		NewWriter(index, graph, slog.Default()),
		catalog,
		slog.Default(),
	)
	return p, index, graph, catalog
}

func TestIngestHappyPath(t *testing.T) {
	t.Parallel()

	transcript := strings.Repeat("Alice spoke about the quarterly review. ", 4)
	transcriber := &sttmock.Provider{
		Result: &stt.Result{Text: transcript, Language: "en"},
	}
	extractor := &staticExtractor{mentions: []memory.EntityMention{
		{Surface: "Alice", Type: memory.EntityPerson, Start: 0, End: 5, Confidence: 0.9},
	}}

	p, index, graph, catalog := newTestPipeline(t, transcriber, extractor)

	rec := types.Recording{ID: "rec1", UserID: "u1", Language: "en", CreatedAt: time.Now()}
	if err := catalog.CreateRecording(context.Background(), memory.RecordingRecord{ID: "rec1", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Ingest(context.Background(), rec, []byte("wav")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	stored := index.Stored()
	if len(stored) == 0 {
		t.Fatal("no chunks in vector store")
	}
	if len(stored) != len(graph.Stored()) {
		t.Errorf("store counts differ: vector=%d graph=%d", len(stored), len(graph.Stored()))
	}

	row, err := catalog.GetRecording(context.Background(), "rec1")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != memory.RecordingIngested {
		t.Errorf("status = %q, want ingested", row.Status)
	}
	if row.ChunkTotal != len(stored) {
		t.Errorf("chunk_total = %d, want %d", row.ChunkTotal, len(stored))
	}
	if row.Transcript != transcript {
		t.Error("transcript not recorded")
	}

	// Every chunk got an embedding and re-based entity positions.
	for _, c := range stored {
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %s has no embedding", c.ID)
		}
		for _, m := range c.Entities {
			if m.Start != c.Start || m.Surface != "Alice" {
				t.Errorf("chunk %s entity not re-based: %+v (chunk start %d)", c.ID, m, c.Start)
			}
		}
	}
}

func TestIngestTranscriptionFailureMarksRecording(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Provider{Err: errors.New("stt down")}
	p, index, graph, catalog := newTestPipeline(t, transcriber, &staticExtractor{})

	if err := catalog.CreateRecording(context.Background(), memory.RecordingRecord{ID: "rec1"}); err != nil {
		t.Fatal(err)
	}
	rec := types.Recording{ID: "rec1", UserID: "u1"}
	if err := p.Ingest(context.Background(), rec, []byte("wav")); err == nil {
		t.Fatal("expected error")
	}

	row, err := catalog.GetRecording(context.Background(), "rec1")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != memory.RecordingFailed || row.Error == "" {
		t.Errorf("row = %+v, want failed with cause", row)
	}
	if len(index.Stored()) != 0 || len(graph.Stored()) != 0 {
		t.Error("stores contain content for failed ingestion")
	}
}

func TestIngestEmptyTranscriptFails(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Provider{Result: &stt.Result{Text: ""}}
	p, _, _, catalog := newTestPipeline(t, transcriber, &staticExtractor{})

	if err := catalog.CreateRecording(context.Background(), memory.RecordingRecord{ID: "rec1"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Ingest(context.Background(), types.Recording{ID: "rec1"}, []byte("wav")); err == nil {
		t.Error("expected error for empty transcript")
	}
}

func TestIngestExtractorFailureRetriesThenFails(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Provider{Result: &stt.Result{Text: "short transcript", Language: "en"}}
	extractor := &staticExtractor{err: errors.New("extractor down")}
	p, _, _, catalog := newTestPipeline(t, transcriber, extractor)

	if err := catalog.CreateRecording(context.Background(), memory.RecordingRecord{ID: "rec1"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Ingest(context.Background(), types.Recording{ID: "rec1"}, []byte("wav")); err == nil {
		t.Fatal("expected error")
	}
	row, _ := catalog.GetRecording(context.Background(), "rec1")
	if row.Status != memory.RecordingFailed {
		t.Errorf("status = %q, want failed", row.Status)
	}
}
