package ingest

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
	memmock "github.com/mnemovox/mnemovox/pkg/memory/mock"
	"github.com/mnemovox/mnemovox/pkg/types"
)

func testBatch(recordingID string, n int) (types.Recording, []memory.Chunk) {
	rec := types.Recording{ID: recordingID, UserID: "u1", CreatedAt: time.Now()}
	chunks := make([]memory.Chunk, n)
	for i := range chunks {
		chunks[i] = memory.Chunk{
			ID:          memory.ChunkID(recordingID, i),
			RecordingID: recordingID,
			UserID:      "u1",
			Text:        "chunk text",
			Index:       i,
			Total:       n,
			Embedding:   []float32{0.1, 0.2},
		}
	}
	return rec, chunks
}

func TestWriteSuccess(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{}
	graph := &memmock.EntityGraph{}
	w := NewWriter(index, graph, slog.Default())

	rec, chunks := testBatch("rec1", 3)
	if err := w.Write(context.Background(), rec, chunks); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := len(index.Stored()); got != 3 {
		t.Errorf("vector store holds %d chunks, want 3", got)
	}
	if got := len(graph.Stored()); got != 3 {
		t.Errorf("graph holds %d chunks, want 3", got)
	}
	if n, _ := graph.CountSequenceEdges(context.Background(), "rec1"); n != 2 {
		t.Errorf("sequence edges = %d, want 2", n)
	}
	if graph.CallCount("EnsureRecording") != 1 {
		t.Errorf("EnsureRecording calls = %d, want 1", graph.CallCount("EnsureRecording"))
	}
}

func TestWriteEmptyBatch(t *testing.T) {
	t.Parallel()

	w := NewWriter(&memmock.VectorIndex{}, &memmock.EntityGraph{}, nil)
	rec, _ := testBatch("rec1", 0)
	if err := w.Write(context.Background(), rec, nil); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestWriteVectorFailureCleansBothStores(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{UpsertErr: errors.New("vector down")}
	graph := &memmock.EntityGraph{}
	w := NewWriter(index, graph, slog.Default())

	rec, chunks := testBatch("rec1", 3)
	if err := w.Write(context.Background(), rec, chunks); err == nil {
		t.Fatal("expected error")
	}

	// Whatever the graph managed to write must be gone.
	if got := len(graph.Stored()); got != 0 {
		t.Errorf("graph still holds %d chunks after cleanup", got)
	}
	if index.CallCount("DeleteRecording") != 1 {
		t.Errorf("vector DeleteRecording calls = %d, want 1", index.CallCount("DeleteRecording"))
	}
	if graph.CallCount("DeleteRecording") != 1 {
		t.Errorf("graph DeleteRecording calls = %d, want 1", graph.CallCount("DeleteRecording"))
	}
}

func TestWriteGraphFailureCleansBothStores(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{}
	graph := &memmock.EntityGraph{
		MergeChunkErr:      errors.New("graph down"),
		MergeChunkErrAfter: 2,
	}
	w := NewWriter(index, graph, slog.Default())

	rec, chunks := testBatch("rec1", 3)
	if err := w.Write(context.Background(), rec, chunks); err == nil {
		t.Fatal("expected error")
	}

	if got := len(index.Stored()); got != 0 {
		t.Errorf("vector store still holds %d chunks after cleanup", got)
	}
	if got := len(graph.Stored()); got != 0 {
		t.Errorf("graph still holds %d chunks after cleanup", got)
	}
}

func TestWriteCountMismatchIsConsistencyError(t *testing.T) {
	t.Parallel()

	short := 2
	index := &memmock.VectorIndex{CountOverride: &short}
	graph := &memmock.EntityGraph{}
	w := NewWriter(index, graph, slog.Default())

	rec, chunks := testBatch("rec1", 3)
	err := w.Write(context.Background(), rec, chunks)
	if !errors.Is(err, memory.ErrConsistency) {
		t.Fatalf("err = %v, want ErrConsistency", err)
	}
	if graph.CallCount("DeleteRecording") != 1 {
		t.Errorf("graph cleanup not triggered")
	}
}

func TestWriteIdempotent(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{}
	graph := &memmock.EntityGraph{}
	w := NewWriter(index, graph, slog.Default())

	rec, chunks := testBatch("rec1", 3)
	for i := 0; i < 2; i++ {
		if err := w.Write(context.Background(), rec, chunks); err != nil {
			t.Fatalf("Write run %d: %v", i+1, err)
		}
	}

	if got := len(index.Stored()); got != 3 {
		t.Errorf("vector store holds %d chunks after re-run, want 3", got)
	}
	if got := len(graph.Stored()); got != 3 {
		t.Errorf("graph holds %d chunks after re-run, want 3", got)
	}
	if n, _ := graph.CountSequenceEdges(context.Background(), "rec1"); n != 2 {
		t.Errorf("sequence edges after re-run = %d, want 2", n)
	}
}

func TestDeleteRemovesBothStores(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{}
	graph := &memmock.EntityGraph{}
	w := NewWriter(index, graph, slog.Default())

	rec, chunks := testBatch("rec1", 2)
	if err := w.Write(context.Background(), rec, chunks); err != nil {
		t.Fatal(err)
	}
	if err := w.Delete(context.Background(), "rec1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(index.Stored()) != 0 || len(graph.Stored()) != 0 {
		t.Error("recording content survived deletion")
	}
}
