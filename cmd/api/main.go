package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikhilbhutani/ragconverse/internal/api"
	"github.com/nikhilbhutani/ragconverse/internal/api/handlers"
	"github.com/nikhilbhutani/ragconverse/internal/app"
	"github.com/nikhilbhutani/ragconverse/internal/cache"
	"github.com/nikhilbhutani/ragconverse/internal/config"
	"github.com/nikhilbhutani/ragconverse/internal/conversation"
	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/queue"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
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

	if err := cfg.ValidateServe(); err != nil {
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
	checks := map[string]handlers.Pinger{"database": db}
	var q handlers.Enqueuer
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = cache.NewCache(rdb)
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		q = qc
	}

	emb, err := app.NewEmbedding(cfg, rdb, logger)
	if err != nil {
		slog.Error("embedding setup failed", "error", err)
		os.Exit(1)
	}

	index := vectorstore.NewPgVectorStore(db)
	gateway := llm.NewGateway(cfg.LLM)
	generator := rag.NewGenerator(gateway, rag.GeneratorOptions{
		Provider: cfg.LLM.DefaultProvider,
		Model:    cfg.LLM.DefaultModel,
	})
	conversations := conversation.NewPostgresStore(db)

	orch := rag.NewOrchestrator(conversations, app.NewRetriever(cfg, emb, index), rag.NewAssembler("", ""), generator,
		rag.OrchestratorOptions{
			HistoryLimit:    cfg.Retrieval.HistoryLimit,
			GenerateTimeout: cfg.Timeouts.Generate,
			PersistTimeout:  cfg.Timeouts.Persist,
			Logger:          logger,
		})

	summaryModel := cfg.LLM.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.LLM.DefaultModel
	}
	loader := source.NewLoader(cfg.Ingest.SourceDirectory)
	summarizer := rag.NewSummarizer(loader,
		rag.NewGenerator(gateway, rag.GeneratorOptions{Provider: cfg.LLM.DefaultProvider, Model: summaryModel}),
		rag.NewPostgresSummaryStore(db), logger)

	router := api.NewRouter(cfg, api.Deps{
		Orchestrator:  orch,
		Conversations: conversations,
		Summarizer:    summarizer,
		Sources:       loader,
		Queue:         q,
		Checks:        checks,
		Logger:        logger,
	})

	// Streams stay open for the whole generation.
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(ctx),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Timeouts.Generate + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
