package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/models"
)

const summarySystemPrompt = `You are an assistant that summarises technical articles. Write a concise, accurate summary of the article that highlights its core points and key information. Keep it between 100 and 200 words.`

// maxSummaryInput bounds the article text sent for summarisation, in runes.
const maxSummaryInput = 24000

// SourceGetter returns one document by id. *source.Loader implements it.
type SourceGetter interface {
	Get(ctx context.Context, slug string) (models.Source, error)
}

// Completer runs non-streaming generation. *Generator implements it.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (*llm.ChatResponse, error)
	Model() string
}

// SummaryStore caches generated summaries by slug.
type SummaryStore interface {
	Get(ctx context.Context, slug string) (string, bool, error)
	Put(ctx context.Context, slug, summary, model string) error
}

type Summarizer struct {
	sources SourceGetter
	gen     Completer
	store   SummaryStore
	logger  *slog.Logger
}

func NewSummarizer(sources SourceGetter, gen Completer, store SummaryStore, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{sources: sources, gen: gen, store: store, logger: logger}
}

// Summary returns the stored summary for slug, generating and storing it on
// first request. cached reports whether it came from the store.
func (s *Summarizer) Summary(ctx context.Context, slug string) (text string, cached bool, err error) {
	text, ok, err := s.store.Get(ctx, slug)
	if err != nil {
		return "", false, fmt.Errorf("read summary: %w: %w", models.ErrPersistence, err)
	}
	if ok {
		return text, true, nil
	}

	src, err := s.sources.Get(ctx, slug)
	if err != nil {
		return "", false, err
	}

	resp, err := s.gen.Complete(ctx, []llm.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: "Summarise the following article:\n\n" + truncateRunes(src.Text, maxSummaryInput)},
	})
	if err != nil {
		return "", false, err
	}
	text = strings.TrimSpace(resp.Content)
	if text == "" {
		return "", false, fmt.Errorf("summarise %s: %w: empty summary", slug, models.ErrGeneration)
	}

	if err := s.store.Put(ctx, slug, text, s.gen.Model()); err != nil {
		// Still useful to the caller; the next request regenerates it.
		s.logger.Error("store summary failed", "source_id", slug, "error", err)
	}
	return text, false, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// PostgresSummaryStore keeps summaries in the post_summaries table.
type PostgresSummaryStore struct {
	db *pgxpool.Pool
}

func NewPostgresSummaryStore(db *pgxpool.Pool) *PostgresSummaryStore {
	return &PostgresSummaryStore{db: db}
}

func (p *PostgresSummaryStore) Get(ctx context.Context, slug string) (string, bool, error) {
	var summary string
	err := p.db.QueryRow(ctx, `SELECT summary FROM post_summaries WHERE slug = $1`, slug).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select summary: %w", err)
	}
	return summary, true, nil
}

func (p *PostgresSummaryStore) Put(ctx context.Context, slug, summary, model string) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO post_summaries (slug, summary, model) VALUES ($1, $2, $3)
		 ON CONFLICT (slug) DO NOTHING`,
		slug, summary, model,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// MemorySummaryStore is a process-local SummaryStore.
type MemorySummaryStore struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemorySummaryStore() *MemorySummaryStore {
	return &MemorySummaryStore{m: make(map[string]string)}
}

func (m *MemorySummaryStore) Get(_ context.Context, slug string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.m[slug]
	return s, ok, nil
}

func (m *MemorySummaryStore) Put(_ context.Context, slug, summary, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.m[slug]; !ok {
		m.m[slug] = summary
	}
	return nil
}
