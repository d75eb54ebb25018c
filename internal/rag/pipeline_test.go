package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/vectorstore"
	"github.com/nikhilbhutani/ragconverse/pkg/chunker"
)

var smallChunks = chunker.ChunkOptions{ChunkSize: 40, ChunkOverlap: 8}

func longText(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = "alpha"
	}
	return strings.Join(parts, " ")
}

func TestChunkSourceDeterministicIDs(t *testing.T) {
	src := models.Source{ID: "my-post", Title: "My Post", Text: longText(60)}

	first := ChunkSource(src, smallChunks, nil)
	second := ChunkSource(src, smallChunks, nil)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	for i, c := range first {
		assert.Equal(t, ChunkID("my-post", i), c.ID)
		assert.Equal(t, "my-post", c.SourceID)
		assert.Positive(t, c.TokenCount)
	}
	assert.Equal(t, "my-post-chunk-0", first[0].ID)
}

func TestChunkSourceEmptyText(t *testing.T) {
	assert.Empty(t, ChunkSource(models.Source{ID: "x", Text: "  \n "}, smallChunks, nil))
}

func newTestIngester(t *testing.T, emb Embedder, store vectorstore.VectorStore) *Ingester {
	t.Helper()
	in, err := NewIngester(emb, store, WithConcurrency(3), WithChunkDefaults(smallChunks))
	require.NoError(t, err)
	t.Cleanup(in.Release)
	return in
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	in := newTestIngester(t, &fakeEmbedder{}, store)

	sources := []models.Source{
		{ID: "a", Title: "A", Text: longText(50)},
		{ID: "b", Title: "B", Text: "short text"},
	}
	report := in.Ingest(ctx, sources, chunker.ChunkOptions{})
	require.Empty(t, report.Failed())

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Upserted(), n)
	assert.Equal(t, 1, report.Sources[1].Chunks)

	again := in.Ingest(ctx, sources, chunker.ChunkOptions{})
	require.Empty(t, again.Failed())
	n2, _ := store.Count(ctx)
	assert.Equal(t, n, n2)

	rec, ok := store.Get("b-chunk-0")
	require.True(t, ok)
	assert.Equal(t, "B", rec.Metadata.SourceTitle)
	assert.Equal(t, "short text", rec.Metadata.Text)
	assert.Equal(t, 0, rec.Metadata.ChunkIndex)
}

func TestIngestBatchFailureFallsBackPerChunk(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	src := models.Source{ID: "a", Title: "A", Text: longText(50)}
	chunks := ChunkSource(src, smallChunks, nil)
	require.Greater(t, len(chunks), 2)

	emb := &fakeEmbedder{
		batchErr:  errors.New("batch too large"),
		singleErr: map[string]error{chunks[1].Text: errors.New("rate limited")},
	}
	// Chunk texts repeat in this source; count how many share the failing text.
	failing := 0
	for _, c := range chunks {
		if c.Text == chunks[1].Text {
			failing++
		}
	}

	in := newTestIngester(t, emb, store)
	report := in.IngestSource(ctx, src, chunker.ChunkOptions{})

	assert.False(t, report.OK())
	assert.Len(t, report.Failed, failing)
	assert.Equal(t, len(chunks)-failing, report.Upserted)
	for _, f := range report.Failed {
		assert.Contains(t, f.Error, "rate limited")
	}
	n, _ := store.Count(ctx)
	assert.Equal(t, report.Upserted, n)
}

func TestIngestContinuesAfterFailedSource(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	emb := &fakeEmbedder{
		batchErr:  errors.New("down"),
		singleErr: map[string]error{"broken source": errors.New("down")},
	}
	in := newTestIngester(t, emb, store)

	report := in.Ingest(ctx, []models.Source{
		{ID: "bad", Title: "Bad", Text: "broken source"},
		{ID: "good", Title: "Good", Text: "fine source"},
	}, chunker.ChunkOptions{})

	require.Len(t, report.Sources, 2)
	assert.False(t, report.Sources[0].OK())
	assert.True(t, report.Sources[1].OK())
	assert.Len(t, report.Failed(), 1)
	_, ok := store.Get("good-chunk-0")
	assert.True(t, ok)
}

func TestIngestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := vectorstore.NewMemoryStore()
	in := newTestIngester(t, &fakeEmbedder{}, store)

	report := in.Ingest(ctx, []models.Source{{ID: "a", Title: "A", Text: "text"}}, chunker.ChunkOptions{})
	require.Len(t, report.Sources, 1)
	assert.NotEmpty(t, report.Sources[0].Error)
	n, _ := store.Count(context.Background())
	assert.Zero(t, n)
}

func TestIngestReplacesShorterSource(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	in := newTestIngester(t, &fakeEmbedder{}, store)

	first := in.IngestSource(ctx, models.Source{ID: "a", Title: "A", Text: longText(40)}, chunker.ChunkOptions{})
	require.True(t, first.OK())
	require.Greater(t, first.Chunks, 1)
	_, ok := store.Get("a-chunk-1")
	require.True(t, ok)

	second := in.IngestSource(ctx, models.Source{ID: "a", Title: "A", Text: "short replacement"}, chunker.ChunkOptions{})
	require.True(t, second.OK())
	assert.Equal(t, 1, second.Chunks)
	assert.Equal(t, first.Chunks-1, second.Pruned)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok = store.Get("a-chunk-1")
	assert.False(t, ok)
	rec, ok := store.Get("a-chunk-0")
	require.True(t, ok)
	assert.Equal(t, "short replacement", rec.Metadata.Text)
}

func TestIngestEmptiedSourceIsRemoved(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, vectorstore.Record{
		ID: "keep-chunk-0", Vector: []float32{1}, Metadata: vectorstore.Metadata{SourceID: "keep"},
	}))
	in := newTestIngester(t, &fakeEmbedder{}, store)

	in.IngestSource(ctx, models.Source{ID: "a", Title: "A", Text: longText(20)}, chunker.ChunkOptions{})
	report := in.Ingest(ctx, []models.Source{{ID: "a", Title: "A", Text: "   "}}, chunker.ChunkOptions{})

	require.Len(t, report.Sources, 1)
	assert.Zero(t, report.Sources[0].Chunks)
	assert.Positive(t, report.Sources[0].Pruned)
	assert.Equal(t, 1, report.IndexRecords)
}

func TestIngestReportsIndexSize(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	in := newTestIngester(t, &fakeEmbedder{}, store)

	report := in.Ingest(ctx, []models.Source{
		{ID: "a", Title: "A", Text: "one"},
		{ID: "b", Title: "B", Text: "two"},
	}, chunker.ChunkOptions{})
	assert.Equal(t, 2, report.IndexRecords)
}

func TestIngestFixedStrategy(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	in := newTestIngester(t, &fakeEmbedder{}, store)
	src := models.Source{ID: "a", Title: "A", Text: longText(30)}

	fixed := chunker.ChunkOptions{ChunkSize: 40, ChunkOverlap: 8, Strategy: chunker.StrategyFixed}
	want := ChunkSource(src, fixed, nil)
	require.NotEqual(t, ChunkSource(src, smallChunks, nil), want)

	report := in.IngestSource(ctx, src, fixed)
	require.True(t, report.OK())
	assert.Equal(t, len(want), report.Chunks)
	rec, ok := store.Get(want[1].ID)
	require.True(t, ok)
	assert.Equal(t, want[1].Text, rec.Metadata.Text)
}

func TestResolveOptionsMergesDefaults(t *testing.T) {
	in := newTestIngester(t, &fakeEmbedder{}, vectorstore.NewMemoryStore())
	in.defaults = chunker.ChunkOptions{ChunkSize: 40, ChunkOverlap: 8, Strategy: chunker.StrategyRecursive}

	got := in.resolveOptions(chunker.ChunkOptions{Strategy: chunker.StrategyFixed})
	assert.Equal(t, chunker.ChunkOptions{ChunkSize: 40, ChunkOverlap: 8, Strategy: chunker.StrategyFixed}, got)

	got = in.resolveOptions(chunker.ChunkOptions{ChunkSize: 100, ChunkOverlap: 10})
	assert.Equal(t, chunker.ChunkOptions{ChunkSize: 100, ChunkOverlap: 10, Strategy: chunker.StrategyRecursive}, got)
}

// hangingStore blocks writes until the caller gives up.
type hangingStore struct {
	*vectorstore.MemoryStore
}

func (s hangingStore) Upsert(ctx context.Context, _ vectorstore.Record) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestIngestHangingEmbedderTimesOut(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	in, err := NewIngester(&fakeEmbedder{hang: true}, store,
		WithConcurrency(3),
		WithChunkDefaults(smallChunks),
		WithCallTimeouts(20*time.Millisecond, 20*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(in.Release)

	src := models.Source{ID: "a", Title: "A", Text: longText(40)}
	start := time.Now()
	report := in.IngestSource(context.Background(), src, chunker.ChunkOptions{})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, report.Upserted)
	assert.Len(t, report.Failed, report.Chunks)

	err = in.storeChunk(context.Background(), src, ChunkSource(src, smallChunks, nil)[0], nil)
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.ErrorIs(t, err, models.ErrEmbedding)
	assert.Equal(t, "timeout", models.Code(err))
}

func TestIngestHangingStoreTimesOut(t *testing.T) {
	in, err := NewIngester(&fakeEmbedder{}, hangingStore{vectorstore.NewMemoryStore()},
		WithChunkDefaults(smallChunks),
		WithCallTimeouts(20*time.Millisecond, 20*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(in.Release)

	src := models.Source{ID: "a", Title: "A", Text: "some text"}
	err = in.storeChunk(context.Background(), src, ChunkSource(src, smallChunks, nil)[0], []float32{1, 2, 3})
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.ErrorIs(t, err, models.ErrPersistence)
}
