// Package app builds the shared service graph used by the binaries under
// cmd. Nothing here is global: every constructor returns handles the caller
// owns and closes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/ragconverse/internal/cache"
	"github.com/nikhilbhutani/ragconverse/internal/config"
	"github.com/nikhilbhutani/ragconverse/internal/database"
	"github.com/nikhilbhutani/ragconverse/internal/embedding"
	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
	"github.com/nikhilbhutani/ragconverse/internal/vectorstore"
	"github.com/nikhilbhutani/ragconverse/pkg/chunker"
	"github.com/nikhilbhutani/ragconverse/pkg/tokenizer"
)

func NewLogger(cfg config.LogConfig) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level}))
}

// OpenDatabase connects and applies pending migrations.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	db, err := database.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(ctx, db, database.MigrationsFS(cfg.MigrationsPath)); err != nil {
		db.Close()
		return nil, err
	}
	// Migrations may have just created the vector type; start from fresh
	// connections so it is registered on each of them.
	db.Reset()
	return db, nil
}

// OpenRedis returns nil when redis cannot be reached; callers run without
// the embedding cache and the job queue.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, running without cache and queue", "error", err)
		rdb.Close()
		return nil
	}
	return rdb
}

// NewEmbedding builds the embedding service, cached in redis when rdb is set.
func NewEmbedding(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) (*embedding.Service, error) {
	provider, err := llm.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w: %w", models.ErrConfiguration, err)
	}
	opts := []embedding.Option{embedding.WithLogger(logger)}
	if rdb != nil && cfg.Embedding.CacheTTL > 0 {
		opts = append(opts, embedding.WithCache(cache.NewCache(rdb), cfg.Embedding.CacheTTL))
	}
	return embedding.NewService(provider, cfg.Embedding.Model, cfg.Embedding.Dimensions, opts...), nil
}

func NewIngester(cfg *config.Config, emb rag.Embedder, store vectorstore.VectorStore, logger *slog.Logger) (*rag.Ingester, error) {
	if !chunker.ValidStrategy(cfg.Ingest.Strategy) {
		return nil, fmt.Errorf("%w: unknown chunk strategy %q", models.ErrConfiguration, cfg.Ingest.Strategy)
	}
	model := cfg.Embedding.Model
	return rag.NewIngester(emb, store,
		rag.WithConcurrency(cfg.Ingest.Concurrency),
		rag.WithChunkDefaults(chunker.ChunkOptions{
			ChunkSize:    cfg.Ingest.ChunkSize,
			ChunkOverlap: cfg.Ingest.ChunkOverlap,
			Strategy:     cfg.Ingest.Strategy,
		}),
		rag.WithCallTimeouts(cfg.Timeouts.Embed, cfg.Timeouts.Persist),
		rag.WithTokenCounter(func(s string) int { return tokenizer.CountTokensForModel(s, model) }),
		rag.WithIngestLogger(logger),
	)
}

func NewRetriever(cfg *config.Config, emb rag.Embedder, store vectorstore.VectorStore) *rag.Retriever {
	return rag.NewRetriever(store, emb, rag.RetrieverOptions{
		TopK:            cfg.Retrieval.TopK,
		MinScore:        cfg.Retrieval.MinScore,
		EmbedTimeout:    cfg.Timeouts.Embed,
		RetrieveTimeout: cfg.Timeouts.Retrieve,
	})
}
