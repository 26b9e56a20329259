package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mnemovox/mnemovox/internal/observe"
	"github.com/mnemovox/mnemovox/internal/resilience"
	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/provider/embeddings"
	"github.com/mnemovox/mnemovox/pkg/provider/stt"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// Pipeline runs a complete ingestion: transcribe the recording, chunk the
// transcript, extract and re-base entities, embed, write to both stores, and
// flip the bookkeeping row.
//
// A pipeline run is idempotent for a given recording id: chunk ids are
// deterministic and every store write uses merge semantics, so the job layer
// can retry a failed run wholesale.
type Pipeline struct {
	transcriber stt.Provider
	chunker     *Chunker
	extractor   Extractor
	embedder    embeddings.Provider
	writer      *Writer
	catalog     memory.Catalog
	logger      *slog.Logger

	extractRetry resilience.RetryConfig
}

// NewPipeline wires the ingestion stages together.
func NewPipeline(
	transcriber stt.Provider,
	chunker *Chunker,
	extractor Extractor,
	embedder embeddings.Provider,
	writer *Writer,
	catalog memory.Catalog,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		transcriber:  transcriber,
		chunker:      chunker,
		extractor:    extractor,
		embedder:     embedder,
		writer:       writer,
		catalog:      catalog,
		logger:       logger,
		extractRetry: resilience.RetryConfig{Attempts: 2},
	}
}

// Ingest processes one uploaded recording end to end. On success the
// bookkeeping row is flipped to "ingested"; on any failure it is flipped to
// "failed" with the cause and the error is returned for the job layer to
// judge against its retry budget.
func (p *Pipeline) Ingest(ctx context.Context, rec types.Recording, wav []byte) error {
	if err := p.run(ctx, rec, wav); err != nil {
		if berr := p.catalog.SetRecordingFailed(context.WithoutCancel(ctx), rec.ID, err.Error()); berr != nil {
			p.logger.Error("ingest: mark recording failed", "recording_id", rec.ID, "error", berr)
		}
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, rec types.Recording, wav []byte) error {
	ctx, span := observe.StartSpan(ctx, "ingest recording",
		trace.WithAttributes(attribute.String("recording_id", rec.ID)))
	defer span.End()

	start := time.Now()

	result, err := p.transcriber.Transcribe(ctx, wav, stt.Options{Language: rec.Language})
	if err != nil {
		return fmt.Errorf("ingest: transcribe %s: %w", rec.ID, err)
	}
	if result.Text == "" {
		return fmt.Errorf("ingest: recording %s produced an empty transcript", rec.ID)
	}
	language := result.Language
	if language == "" {
		language = rec.Language
	}

	chunks := p.chunker.Split(result.Text, rec.ID, rec.UserID, language, time.Now().UTC())
	if len(chunks) == 0 {
		return fmt.Errorf("ingest: recording %s produced no chunks", rec.ID)
	}

	if err := p.enrich(ctx, chunks, language); err != nil {
		return err
	}
	if err := p.embed(ctx, chunks); err != nil {
		return err
	}

	if err := p.writer.Write(ctx, rec, chunks); err != nil {
		return fmt.Errorf("ingest: write %s: %w", rec.ID, err)
	}

	if err := p.catalog.SetRecordingIngested(ctx, rec.ID, len(chunks), result.Text); err != nil {
		// Both stores wrote but the bookkeeping row did not flip, so the
		// recording must not become visible half-committed: roll back.
		p.logger.Error("ingest: bookkeeping update failed, rolling back stores",
			"recording_id", rec.ID, "error", err)
		if derr := p.writer.Delete(context.WithoutCancel(ctx), rec.ID); derr != nil {
			p.logger.Error("ingest: rollback after bookkeeping failure",
				"recording_id", rec.ID, "error", derr)
		}
		return fmt.Errorf("ingest: mark ingested %s: %w", rec.ID, err)
	}

	p.logger.Info("recording ingested",
		"recording_id", rec.ID,
		"user_id", rec.UserID,
		"chunks", len(chunks),
		"duration", time.Since(start))
	return nil
}

// enrich runs entity extraction per chunk and re-bases the chunk-relative
// span positions to absolute transcript offsets. Extraction is an idempotent
// read, so it gets one bounded retry.
func (p *Pipeline) enrich(ctx context.Context, chunks []memory.Chunk, language string) error {
	for i := range chunks {
		c := &chunks[i]

		var mentions []memory.EntityMention
		err := resilience.Retry(ctx, p.extractRetry, func(ctx context.Context) error {
			var e error
			mentions, e = p.extractor.Extract(ctx, c.Text, language)
			return e
		})
		if err != nil {
			return fmt.Errorf("ingest: extract entities for %s: %w", c.ID, err)
		}

		for j := range mentions {
			mentions[j].Start += c.Start
			mentions[j].End += c.Start
		}
		c.Entities = mentions
	}
	return nil
}

// embed computes embeddings for the whole batch in one provider call.
func (p *Pipeline) embed(ctx context.Context, chunks []memory.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	err := resilience.Retry(ctx, p.extractRetry, func(ctx context.Context) error {
		var e error
		vectors, e = p.embedder.EmbedBatch(ctx, texts)
		return e
	})
	if err != nil {
		return fmt.Errorf("ingest: embed batch: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("ingest: embed batch: expected %d vectors, got %d", len(chunks), len(vectors))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	return nil
}
