package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragconverse/internal/cache"
	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/models"
)

type fakeEmbedder struct {
	dims    int
	err     error
	calls   int
	batches []int
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	f.calls++
	f.batches = append(f.batches, len(req.Input))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(req.Input))
	for i, t := range req.Input {
		v := make([]float32, f.dims)
		v[0] = float32(len(t))
		out[i] = v
	}
	return &llm.EmbeddingResponse{Model: req.Model, Embeddings: out}, nil
}

type mapCache map[string][]byte

func (m mapCache) Get(_ context.Context, key string, dest any) error {
	b, ok := m[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(b, dest)
}

func (m mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m[key] = b
	return nil
}

func (m mapCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m, k)
	}
	return nil
}

func TestEmbedBatchesInOrder(t *testing.T) {
	fe := &fakeEmbedder{dims: 4}
	s := NewService(fe, "m", 4)

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("%0*d", i%7+1, i)
	}
	vecs, err := s.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 250)
	assert.Equal(t, []int{100, 100, 50}, fe.batches)
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	s := NewService(&fakeEmbedder{dims: 3}, "m", 1536)
	_, err := s.EmbedSingle(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmbedding)
}

func TestEmbedProviderFailure(t *testing.T) {
	s := NewService(&fakeEmbedder{err: errors.New("401 unauthorized")}, "m", 0)
	_, err := s.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, models.ErrEmbedding)
	assert.Equal(t, "embedding_failure", models.Code(err))
}

func TestEmbedTimeout(t *testing.T) {
	s := NewService(&fakeEmbedder{err: context.DeadlineExceeded}, "m", 0)
	_, err := s.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, models.ErrEmbedding)
	assert.ErrorIs(t, err, models.ErrTimeout)
}

func TestEmbedEmptyInput(t *testing.T) {
	fe := &fakeEmbedder{dims: 2}
	vecs, err := NewService(fe, "m", 2).Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Zero(t, fe.calls)
}

func TestEmbedCache(t *testing.T) {
	fe := &fakeEmbedder{dims: 2}
	c := mapCache{}
	s := NewService(fe, "m", 2, WithCache(c, time.Hour))

	first, err := s.EmbedSingle(context.Background(), "same question")
	require.NoError(t, err)
	second, err := s.EmbedSingle(context.Background(), "same question")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fe.calls)
	assert.Len(t, c, 1)

	_, err = s.Embed(context.Background(), []string{"same question", "other"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, fe.batches)
}

func TestEmbedCacheDropsWrongDimension(t *testing.T) {
	fe := &fakeEmbedder{dims: 2, err: errors.New("provider down")}
	c := mapCache{}
	s := NewService(fe, "m", 2, WithCache(c, time.Hour))
	require.NoError(t, c.Set(context.Background(), s.key("q"), []float32{1, 2, 3}, time.Hour))

	_, err := s.EmbedSingle(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 1, fe.calls)
	assert.NotContains(t, c, s.key("q"))

	fe.err = nil
	v, err := s.EmbedSingle(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, v, 2)
	assert.Contains(t, c, s.key("q"))
}
