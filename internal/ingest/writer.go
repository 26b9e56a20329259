package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// Writer persists a batch of enriched chunks to both memory stores with a
// both-or-neither contract: after Write returns, either every chunk and edge
// exists in both the vector index and the graph, or neither store contains
// anything for the recording.
//
// There is no distributed transaction. The contract is enforced by keyed
// compensation: every node, edge, and vector entry is locatable by the
// recording id alone, so a failure on either side triggers DeleteRecording
// on both. Re-running Write with the same input is idempotent because all
// writes use merge/upsert semantics keyed on stable chunk ids.
type Writer struct {
	index  memory.VectorIndex
	graph  memory.EntityGraph
	logger *slog.Logger
}

// NewWriter creates a dual-store Writer.
func NewWriter(index memory.VectorIndex, graph memory.EntityGraph, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{index: index, graph: graph, logger: logger}
}

// Write persists the batch to both stores.
//
// The vector upsert and the graph write run concurrently. Within the graph,
// chunks are merged sequentially and FOLLOWED_BY edges are linked only after
// every chunk node exists. After both sides succeed the per-store chunk
// counts are verified against the batch; a mismatch is treated as a failed
// write.
//
// On any failure both stores are purged of the recording (best effort,
// logged) before the error is surfaced.
func (w *Writer) Write(ctx context.Context, rec types.Recording, chunks []memory.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("writer: recording %s: empty chunk batch", rec.ID)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := w.index.UpsertChunks(egCtx, chunks); err != nil {
			return fmt.Errorf("writer: vector upsert for %s: %w", rec.ID, err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := w.graph.EnsureRecording(egCtx, rec); err != nil {
			return fmt.Errorf("writer: ensure recording %s: %w", rec.ID, err)
		}
		chunkIDs := make([]string, len(chunks))
		for i, c := range chunks {
			if err := w.graph.MergeChunk(egCtx, c); err != nil {
				return fmt.Errorf("writer: merge chunk %s: %w", c.ID, err)
			}
			chunkIDs[i] = c.ID
		}
		if err := w.graph.LinkSequence(egCtx, rec.ID, chunkIDs); err != nil {
			return fmt.Errorf("writer: link sequence for %s: %w", rec.ID, err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		w.compensate(ctx, rec.ID)
		return err
	}

	if err := w.verify(ctx, rec.ID, len(chunks)); err != nil {
		w.compensate(ctx, rec.ID)
		return err
	}
	return nil
}

// Delete removes every trace of the recording from both stores. It is the
// same keyed deletion the compensation path uses, exposed for user-initiated
// recording deletion.
func (w *Writer) Delete(ctx context.Context, recordingID string) error {
	var firstErr error
	if err := w.index.DeleteRecording(ctx, recordingID); err != nil {
		firstErr = fmt.Errorf("writer: delete vectors for %s: %w", recordingID, err)
	}
	if err := w.graph.DeleteRecording(ctx, recordingID); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("writer: delete graph nodes for %s: %w", recordingID, err)
	}
	return firstErr
}

// verify checks the dual-store invariant: both stores hold exactly the batch
// size for the recording.
func (w *Writer) verify(ctx context.Context, recordingID string, want int) error {
	vecCount, err := w.index.CountChunks(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("writer: count vectors for %s: %w", recordingID, err)
	}
	graphCount, err := w.graph.CountChunks(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("writer: count graph chunks for %s: %w", recordingID, err)
	}
	if vecCount != want || graphCount != want {
		return fmt.Errorf("writer: recording %s: vector=%d graph=%d want=%d: %w",
			recordingID, vecCount, graphCount, want, memory.ErrConsistency)
	}
	return nil
}

// compensate purges the recording from both stores after a failed write.
// Best effort: each failure is logged and the other store is still attempted.
// Cleanup runs even when the original ctx is already cancelled.
func (w *Writer) compensate(ctx context.Context, recordingID string) {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := w.index.DeleteRecording(cleanupCtx, recordingID); err != nil {
		w.logger.Error("dual-store cleanup: vector delete failed",
			"recording_id", recordingID, "error", err)
	}
	if err := w.graph.DeleteRecording(cleanupCtx, recordingID); err != nil {
		w.logger.Error("dual-store cleanup: graph delete failed",
			"recording_id", recordingID, "error", err)
	}
}
