package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/ragconverse/internal/app"
	"github.com/nikhilbhutani/ragconverse/internal/config"
	"github.com/nikhilbhutani/ragconverse/internal/queue"
	"github.com/nikhilbhutani/ragconverse/internal/queue/workers"
	"github.com/nikhilbhutani/ragconverse/internal/source"
	"github.com/nikhilbhutani/ragconverse/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.ValidateIngest(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := app.OpenRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	emb, err := app.NewEmbedding(cfg, rdb, logger)
	if err != nil {
		slog.Error("embedding setup failed", "error", err)
		os.Exit(1)
	}
	ingester, err := app.NewIngester(cfg, emb, vectorstore.NewPgVectorStore(db), logger)
	if err != nil {
		slog.Error("ingester setup failed", "error", err)
		os.Exit(1)
	}
	defer ingester.Release()

	const concurrency = 2
	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			LogLevel:    asynq.InfoLevel,
		},
	)

	registry := queue.NewHandlersRegistry(logger)
	ingestWorker := workers.NewIngestWorker(source.NewLoader(cfg.Ingest.SourceDirectory), ingester)
	registry.Register(queue.TypeIngestSource, asynq.HandlerFunc(ingestWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", concurrency, "sources", cfg.Ingest.SourceDirectory)
	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("shutting down worker...")
	srv.Shutdown()
}
