// Command ingest chunks every document in the source directory, embeds the
// chunks and upserts them into the vector index. It exits non-zero when any
// chunk could not be stored.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nikhilbhutani/ragconverse/internal/app"
	"github.com/nikhilbhutani/ragconverse/internal/config"
	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
	"github.com/nikhilbhutani/ragconverse/internal/source"
	"github.com/nikhilbhutani/ragconverse/internal/vectorstore"
	"github.com/nikhilbhutani/ragconverse/pkg/chunker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	flag.StringVar(&cfg.Ingest.SourceDirectory, "dir", cfg.Ingest.SourceDirectory, "directory of source documents")
	flag.IntVar(&cfg.Ingest.ChunkSize, "chunk-size", cfg.Ingest.ChunkSize, "target chunk size in characters")
	flag.IntVar(&cfg.Ingest.ChunkOverlap, "chunk-overlap", cfg.Ingest.ChunkOverlap, "characters shared by adjacent chunks")
	flag.StringVar(&cfg.Ingest.Strategy, "strategy", cfg.Ingest.Strategy, `chunking strategy, "recursive" or "fixed"`)
	flag.IntVar(&cfg.Ingest.Concurrency, "concurrency", cfg.Ingest.Concurrency, "chunks embedded at once")
	only := flag.String("source", "", "ingest only this source id")
	report := flag.Bool("report", false, "print the ingestion report as JSON")
	flag.Parse()

	logger := app.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.ValidateIngest(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := source.NewLoader(cfg.Ingest.SourceDirectory)
	var sources []models.Source
	if *only != "" {
		src, err := loader.Get(ctx, *only)
		if err != nil {
			slog.Error("load source failed", "source_id", *only, "error", err)
			return 1
		}
		sources = []models.Source{src}
	} else {
		sources, err = loader.Load(ctx)
		if err != nil {
			slog.Error("load sources failed", "dir", loader.Dir(), "error", err)
			return 1
		}
	}

	db, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		return 1
	}
	defer db.Close()

	rdb := app.OpenRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	emb, err := app.NewEmbedding(cfg, rdb, logger)
	if err != nil {
		slog.Error("embedding setup failed", "error", err)
		return 1
	}
	ingester, err := app.NewIngester(cfg, emb, vectorstore.NewPgVectorStore(db), logger)
	if err != nil {
		slog.Error("ingester setup failed", "error", err)
		return 1
	}
	defer ingester.Release()

	slog.Info("ingesting sources", "count", len(sources), "dir", loader.Dir())
	res := ingester.Ingest(ctx, sources, chunker.ChunkOptions{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		Strategy:     cfg.Ingest.Strategy,
	})

	if *report {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(res)
	}
	return summarize(res)
}

func summarize(res rag.IngestReport) int {
	failed := res.Failed()
	for _, s := range failed {
		slog.Error("source not fully ingested",
			"source_id", s.SourceID,
			"failed_chunks", len(s.Failed),
			"error", s.Error,
		)
	}
	slog.Info("ingestion finished",
		"sources", len(res.Sources),
		"upserted", res.Upserted(),
		"failed_sources", len(failed),
		"index_records", res.IndexRecords,
	)
	if len(failed) > 0 {
		fmt.Fprintf(os.Stderr, "ingestion incomplete: %d of %d sources had failures\n", len(failed), len(res.Sources))
		return 1
	}
	return 0
}
