package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/queue"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
	"github.com/nikhilbhutani/ragconverse/pkg/chunker"
)

type IngestWorker struct {
	sources  rag.SourceGetter
	ingester *rag.Ingester
}

func NewIngestWorker(sources rag.SourceGetter, ingester *rag.Ingester) *IngestWorker {
	return &IngestWorker{sources: sources, ingester: ingester}
}

// ProcessTask ingests one source. Partial failures are logged and accepted;
// the task is retried only when no chunk could be stored.
func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.IngestSourcePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.SourceID == "" {
		return fmt.Errorf("ingest source: empty source id: %w", asynq.SkipRetry)
	}
	if !chunker.ValidStrategy(payload.Strategy) {
		return fmt.Errorf("ingest source %s: unknown strategy %q: %w", payload.SourceID, payload.Strategy, asynq.SkipRetry)
	}

	src, err := w.sources.Get(ctx, payload.SourceID)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("load source %s: %w: %w", payload.SourceID, err, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("load source %s: %w", payload.SourceID, err)
	}

	opts := chunker.ChunkOptions{
		ChunkSize:    payload.ChunkSize,
		ChunkOverlap: payload.ChunkOverlap,
		Strategy:     payload.Strategy,
	}

	slog.Info("ingesting source", "source_id", src.ID)
	report := w.ingester.IngestSource(ctx, src, opts)

	if report.Chunks > 0 && report.Upserted == 0 {
		return fmt.Errorf("ingest source %s: all %d chunks failed", src.ID, report.Chunks)
	}
	if !report.OK() {
		slog.Warn("source ingested with failures",
			"source_id", src.ID,
			"failed", len(report.Failed),
			"upserted", report.Upserted,
		)
		return nil
	}

	slog.Info("source ingested", "source_id", src.ID, "chunks", report.Chunks, "pruned", report.Pruned)
	return nil
}
