package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/queue"
	"github.com/nikhilbhutani/ragconverse/pkg/chunker"
)

// SourceLister enumerates every ingestible document. *source.Loader
// implements it.
type SourceLister interface {
	Load(ctx context.Context) ([]models.Source, error)
}

type Enqueuer interface {
	EnqueueIngestSource(ctx context.Context, payload queue.IngestSourcePayload) error
}

type AdminHandler struct {
	sources SourceLister
	queue   Enqueuer
	logger  *slog.Logger
}

func NewAdminHandler(sources SourceLister, q Enqueuer, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{sources: sources, queue: q, logger: logger}
}

type ingestRequest struct {
	SourceIDs    []string `json:"sourceIds"`
	ChunkSize    int      `json:"chunkSize"`
	ChunkOverlap int      `json:"chunkOverlap"`
	Strategy     string   `json:"strategy"`
}

func (req ingestRequest) validate() string {
	switch {
	case req.ChunkSize < 0 || req.ChunkOverlap < 0:
		return "chunkSize and chunkOverlap must not be negative"
	case req.ChunkSize == 0 && req.ChunkOverlap > 0:
		return "chunkOverlap requires chunkSize"
	case req.ChunkSize > 0 && req.ChunkOverlap >= req.ChunkSize:
		return "chunkOverlap must be smaller than chunkSize"
	case !chunker.ValidStrategy(req.Strategy):
		return `strategy must be "recursive" or "fixed"`
	}
	return ""
}

type ingestResponse struct {
	Queued  []string `json:"queued"`
	Pending []string `json:"pending"`
}

// Ingest queues one task per source. With no sourceIds every document in the
// source directory is queued. Sources already waiting in the queue are
// reported as pending.
func (h *AdminHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeBadRequest(w, msg)
		return
	}

	ids := req.SourceIDs
	if len(ids) == 0 {
		srcs, err := h.sources.Load(r.Context())
		if err != nil {
			h.logger.Error("list sources failed", "error", err)
			writeError(w, err)
			return
		}
		for _, s := range srcs {
			ids = append(ids, s.ID)
		}
	}

	resp := ingestResponse{Queued: []string{}, Pending: []string{}}
	for _, id := range ids {
		err := h.queue.EnqueueIngestSource(r.Context(), queue.IngestSourcePayload{
			SourceID:     id,
			ChunkSize:    req.ChunkSize,
			ChunkOverlap: req.ChunkOverlap,
			Strategy:     req.Strategy,
		})
		switch {
		case errors.Is(err, queue.ErrAlreadyQueued):
			resp.Pending = append(resp.Pending, id)
		case err != nil:
			h.logger.Error("enqueue ingestion failed", "source_id", id, "error", err)
			writeError(w, err)
			return
		default:
			resp.Queued = append(resp.Queued, id)
		}
	}

	h.logger.Info("ingestion queued", "queued", len(resp.Queued), "pending", len(resp.Pending))
	writeJSON(w, http.StatusAccepted, resp)
}
