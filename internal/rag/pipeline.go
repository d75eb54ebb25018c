package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/vectorstore"
	"github.com/nikhilbhutani/ragconverse/pkg/chunker"
)

const progressEvery = 10

const (
	defaultEmbedTimeout  = 30 * time.Second
	defaultUpsertTimeout = 10 * time.Second
	embedBatchSize       = 100
)

// ChunkFailure records one chunk that could not be embedded or stored.
type ChunkFailure struct {
	ChunkID string `json:"chunkId"`
	Index   int    `json:"index"`
	Error   string `json:"error"`
}

type SourceReport struct {
	SourceID string         `json:"sourceId"`
	Title    string         `json:"title"`
	Chunks   int            `json:"chunks"`
	Upserted int            `json:"upserted"`
	Failed   []ChunkFailure `json:"failed,omitempty"`
	// Pruned counts records of an earlier, longer version of the source
	// that were removed from the index.
	Pruned int `json:"pruned,omitempty"`
	// Error is set when the source was not processed at all.
	Error string `json:"error,omitempty"`
}

// OK reports whether every chunk of the source was stored.
func (r SourceReport) OK() bool {
	return r.Error == "" && len(r.Failed) == 0
}

type IngestReport struct {
	Sources []SourceReport `json:"sources"`
	// IndexRecords is the size of the index afterwards, -1 if unknown.
	IndexRecords int `json:"indexRecords"`
}

// Failed returns the reports of sources that did not fully succeed.
func (r IngestReport) Failed() []SourceReport {
	var out []SourceReport
	for _, s := range r.Sources {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

func (r IngestReport) Upserted() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Upserted
	}
	return n
}

// Ingester chunks sources, embeds every chunk and upserts it into the
// vector index. Each chunk is an independent unit of work run on a bounded
// pool; one failure never stops the others.
type Ingester struct {
	embedder      Embedder
	store         vectorstore.VectorStore
	pool          *ants.Pool
	defaults      chunker.ChunkOptions
	count         TokenCounter
	embedTimeout  time.Duration
	upsertTimeout time.Duration
	logger        *slog.Logger
}

type IngesterOption func(*Ingester) error

// WithConcurrency sets the number of chunks processed at once.
func WithConcurrency(n int) IngesterOption {
	return func(in *Ingester) error {
		if n < 1 {
			n = 1
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return fmt.Errorf("create ingest pool: %w", err)
		}
		if in.pool != nil {
			in.pool.Release()
		}
		in.pool = pool
		return nil
	}
}

func WithChunkDefaults(opts chunker.ChunkOptions) IngesterOption {
	return func(in *Ingester) error {
		in.defaults = opts
		return nil
	}
}

// WithCallTimeouts bounds every embedding call and every index write.
// Non-positive values keep the defaults.
func WithCallTimeouts(embed, upsert time.Duration) IngesterOption {
	return func(in *Ingester) error {
		if embed > 0 {
			in.embedTimeout = embed
		}
		if upsert > 0 {
			in.upsertTimeout = upsert
		}
		return nil
	}
}

func WithTokenCounter(count TokenCounter) IngesterOption {
	return func(in *Ingester) error {
		in.count = count
		return nil
	}
}

func WithIngestLogger(logger *slog.Logger) IngesterOption {
	return func(in *Ingester) error {
		if logger == nil {
			logger = slog.Default()
		}
		in.logger = logger
		return nil
	}
}

func NewIngester(embedder Embedder, store vectorstore.VectorStore, opts ...IngesterOption) (*Ingester, error) {
	pool, err := ants.NewPool(4)
	if err != nil {
		return nil, fmt.Errorf("create ingest pool: %w", err)
	}
	in := &Ingester{
		embedder:      embedder,
		store:         store,
		pool:          pool,
		defaults:      chunker.DefaultOptions(),
		embedTimeout:  defaultEmbedTimeout,
		upsertTimeout: defaultUpsertTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(in); err != nil {
			in.Release()
			return nil, err
		}
	}
	return in, nil
}

// Release stops the worker pool. The Ingester must not be used afterwards.
func (in *Ingester) Release() {
	if in.pool != nil {
		in.pool.Release()
	}
}

// Ingest processes sources one after another. A zero ChunkSize in opts
// selects the Ingester's defaults.
func (in *Ingester) Ingest(ctx context.Context, sources []models.Source, opts chunker.ChunkOptions) IngestReport {
	report := IngestReport{Sources: make([]SourceReport, 0, len(sources))}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			report.Sources = append(report.Sources, SourceReport{
				SourceID: src.ID,
				Title:    src.Title,
				Error:    err.Error(),
			})
			continue
		}
		sr := in.IngestSource(ctx, src, opts)
		report.Sources = append(report.Sources, sr)
	}
	report.IndexRecords = in.countRecords(ctx)
	in.logger.Info("ingestion finished",
		"sources", len(report.Sources),
		"failed_sources", len(report.Failed()),
		"upserted", report.Upserted(),
		"index_records", report.IndexRecords,
	)
	return report
}

func (in *Ingester) countRecords(ctx context.Context) int {
	if ctx.Err() != nil {
		return -1
	}
	cctx, cancel := withTimeout(ctx, in.upsertTimeout)
	defer cancel()
	n, err := in.store.Count(cctx)
	if err != nil {
		in.logger.Warn("count index records failed", "error", err)
		return -1
	}
	return n
}

// resolveOptions fills unset fields from the Ingester's defaults. A zero
// ChunkSize selects the default size and overlap together.
func (in *Ingester) resolveOptions(opts chunker.ChunkOptions) chunker.ChunkOptions {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = in.defaults.ChunkSize
		opts.ChunkOverlap = in.defaults.ChunkOverlap
	}
	if opts.Strategy == "" {
		opts.Strategy = in.defaults.Strategy
	}
	return opts
}

// IngestSource chunks, embeds and upserts one source, then removes index
// records left over from an earlier version with more chunks.
func (in *Ingester) IngestSource(ctx context.Context, src models.Source, opts chunker.ChunkOptions) SourceReport {
	opts = in.resolveOptions(opts)
	report := SourceReport{SourceID: src.ID, Title: src.Title}
	log := in.logger.With("source_id", src.ID)

	chunks := ChunkSource(src, opts, in.count)
	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		log.Warn("source produced no chunks")
		report.Pruned = in.prune(ctx, src.ID, 0, log)
		return report
	}
	log.Info("ingesting source", "title", src.Title, "chunks", len(chunks))

	vectors := in.embedBatch(ctx, chunks, log)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		upserted atomic.Int64
		done     atomic.Int64
	)
	fail := func(c Chunk, err error) {
		log.Error("chunk ingestion failed", "chunk_id", c.ID, "error", err)
		mu.Lock()
		report.Failed = append(report.Failed, ChunkFailure{ChunkID: c.ID, Index: c.Index, Error: err.Error()})
		mu.Unlock()
	}

	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			fail(c, err)
			continue
		}
		var vec []float32
		if vectors != nil {
			vec = vectors[i]
		}

		wg.Add(1)
		err := in.pool.Submit(func() {
			defer wg.Done()
			if err := in.storeChunk(ctx, src, c, vec); err != nil {
				fail(c, err)
			} else {
				upserted.Add(1)
			}
			if n := done.Add(1); n%progressEvery == 0 || int(n) == len(chunks) {
				log.Info("ingest progress", "done", n, "total", len(chunks))
			}
		})
		if err != nil {
			wg.Done()
			fail(c, fmt.Errorf("schedule chunk: %w", err))
		}
	}
	wg.Wait()

	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Index < report.Failed[j].Index })
	report.Upserted = int(upserted.Load())
	report.Pruned = in.prune(ctx, src.ID, len(chunks), log)
	return report
}

// prune deletes the source's records with a chunk index of at least from.
func (in *Ingester) prune(ctx context.Context, sourceID string, from int, log *slog.Logger) int {
	if ctx.Err() != nil {
		return 0
	}
	pctx, cancel := withTimeout(ctx, in.upsertTimeout)
	defer cancel()
	n, err := in.store.DeleteSource(pctx, sourceID, from)
	if err != nil {
		log.Error("prune stale chunks failed", "from_index", from,
			"error", models.StageError(models.ErrPersistence, "prune stale chunks", err))
		return 0
	}
	if n > 0 {
		log.Info("pruned stale chunks", "removed", n, "from_index", from)
	}
	return n
}

// embedBatch embeds every chunk in one call. On failure it returns nil and
// each chunk is embedded on its own instead.
func (in *Ingester) embedBatch(ctx context.Context, chunks []Chunk, log *slog.Logger) [][]float32 {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	// One timeout per provider batch the embedding client will send.
	batches := (len(texts) + embedBatchSize - 1) / embedBatchSize
	ectx, cancel := withTimeout(ctx, in.embedTimeout*time.Duration(batches))
	defer cancel()

	vectors, err := in.embedder.Embed(ectx, texts)
	if err != nil {
		log.Warn("batch embedding failed, embedding chunks individually", "error", err)
		return nil
	}
	if len(vectors) != len(chunks) {
		log.Warn("batch embedding returned wrong count, embedding chunks individually",
			"vectors", len(vectors), "chunks", len(chunks))
		return nil
	}
	return vectors
}

func (in *Ingester) storeChunk(ctx context.Context, src models.Source, c Chunk, vec []float32) error {
	if vec == nil {
		var err error
		vec, err = in.embedChunk(ctx, c)
		if err != nil {
			return err
		}
	}
	if len(vec) == 0 {
		return fmt.Errorf("embed chunk %s: %w: empty vector", c.ID, models.ErrEmbedding)
	}
	uctx, cancel := withTimeout(ctx, in.upsertTimeout)
	defer cancel()
	err := in.store.Upsert(uctx, vectorstore.Record{
		ID:     c.ID,
		Vector: vec,
		Metadata: vectorstore.Metadata{
			SourceTitle: src.Title,
			SourceID:    src.ID,
			ChunkIndex:  c.Index,
			Text:        c.Text,
			TokenCount:  c.TokenCount,
		},
	})
	if err != nil {
		return models.StageError(models.ErrPersistence, "upsert chunk", err)
	}
	return nil
}

func (in *Ingester) embedChunk(ctx context.Context, c Chunk) ([]float32, error) {
	ectx, cancel := withTimeout(ctx, in.embedTimeout)
	defer cancel()
	vec, err := in.embedder.EmbedSingle(ectx, c.Text)
	if err != nil {
		return nil, models.StageError(models.ErrEmbedding, "embed chunk "+c.ID, err)
	}
	return vec, nil
}
