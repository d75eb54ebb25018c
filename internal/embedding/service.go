package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/ragconverse/internal/cache"
	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/models"
)

const batchSize = 100

// Cache is the subset of cache.Cache used for embedding lookups.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Service struct {
	embedder   llm.Embedder
	model      string
	dimensions int
	cache      Cache
	ttl        time.Duration
	logger     *slog.Logger
}

type Option func(*Service)

// WithCache stores vectors under emb:<model>:<sha256(text)> for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService builds an embedding client. A positive dimensions value makes
// every returned vector be checked against it.
func NewService(e llm.Embedder, model string, dimensions int, opts ...Option) *Service {
	if model == "" {
		model = "text-embedding-3-small"
	}
	s := &Service{
		embedder:   e,
		model:      model,
		dimensions: dimensions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Model() string { return s.model }

func (s *Service) Dimensions() int { return s.dimensions }

// Embed returns one vector per input text, in input order.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	for i, t := range texts {
		if v, ok := s.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missIdx); start += batchSize {
		end := min(start+batchSize, len(missIdx))
		idx := missIdx[start:end]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		resp, err := s.embedder.GenerateEmbedding(ctx, llm.EmbeddingRequest{
			Model:      s.model,
			Input:      batch,
			Dimensions: s.dimensions,
		})
		if err != nil {
			return nil, models.StageError(models.ErrEmbedding, fmt.Sprintf("embed batch %d", start/batchSize), err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("embed batch %d: %w: got %d vectors for %d inputs",
				start/batchSize, models.ErrEmbedding, len(resp.Embeddings), len(batch))
		}
		for j, v := range resp.Embeddings {
			if err := s.checkDimensions(v); err != nil {
				return nil, err
			}
			out[idx[j]] = v
			s.store(ctx, batch[j], v)
		}
	}

	return out, nil
}

func (s *Service) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embed single: %w: no embedding returned", models.ErrEmbedding)
	}
	return embeddings[0], nil
}

func (s *Service) checkDimensions(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("check embedding: %w: empty vector", models.ErrEmbedding)
	}
	if s.dimensions > 0 && len(v) != s.dimensions {
		return fmt.Errorf("check embedding: %w: dimension %d, want %d", models.ErrEmbedding, len(v), s.dimensions)
	}
	return nil
}

func (s *Service) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + s.model + ":" + hex.EncodeToString(sum[:])
}

func (s *Service) lookup(ctx context.Context, text string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	var v []float32
	err := s.cache.Get(ctx, s.key(text), &v)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("embedding cache get failed", "error", err)
		}
		return nil, false
	}
	if err := s.checkDimensions(v); err != nil {
		// Written by a model with another dimension; drop it.
		s.logger.Warn("discarding cached embedding", "error", err)
		if err := s.cache.Delete(ctx, s.key(text)); err != nil {
			s.logger.Warn("embedding cache delete failed", "error", err)
		}
		return nil, false
	}
	return v, true
}

func (s *Service) store(ctx context.Context, text string, v []float32) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, s.key(text), v, s.ttl); err != nil {
		s.logger.Warn("embedding cache set failed", "error", err)
	}
}
