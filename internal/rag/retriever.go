package rag

import (
	"context"
	"time"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/vectorstore"
)

// Embedder turns text into vectors. *embedding.Service implements it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// RetrievedChunk is a match resolved to the fields the prompt and the
// client need.
type RetrievedChunk struct {
	ID          string
	SourceID    string
	SourceTitle string
	Text        string
	Score       float64
}

type Retriever struct {
	store           vectorstore.VectorStore
	embedder        Embedder
	topK            int
	minScore        float64
	embedTimeout    time.Duration
	retrieveTimeout time.Duration
}

type RetrieverOptions struct {
	TopK            int
	MinScore        float64 // 0 keeps every match
	EmbedTimeout    time.Duration
	RetrieveTimeout time.Duration
}

func NewRetriever(store vectorstore.VectorStore, embedder Embedder, opts RetrieverOptions) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Retriever{
		store:           store,
		embedder:        embedder,
		topK:            opts.TopK,
		minScore:        opts.MinScore,
		embedTimeout:    opts.EmbedTimeout,
		retrieveTimeout: opts.RetrieveTimeout,
	}
}

// EmbedQuery fails with models.ErrEmbedding.
func (r *Retriever) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, r.embedTimeout)
	defer cancel()

	vec, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, models.StageError(models.ErrEmbedding, "embed query", err)
	}
	return vec, nil
}

// Search fails with models.ErrRetrieval. Results keep the index order.
func (r *Retriever) Search(ctx context.Context, vec []float32) ([]RetrievedChunk, error) {
	ctx, cancel := withTimeout(ctx, r.retrieveTimeout)
	defer cancel()

	matches, err := r.store.Query(ctx, vec, r.topK)
	if err != nil {
		return nil, models.StageError(models.ErrRetrieval, "query index", err)
	}

	out := make([]RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		if r.minScore > 0 && m.Score < r.minScore {
			continue
		}
		out = append(out, RetrievedChunk{
			ID:          m.ID,
			SourceID:    m.Metadata.SourceID,
			SourceTitle: m.Metadata.SourceTitle,
			Text:        m.Metadata.Text,
			Score:       m.Score,
		})
	}
	return out, nil
}

// Retrieve embeds query and searches the index.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]RetrievedChunk, error) {
	vec, err := r.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, vec)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
