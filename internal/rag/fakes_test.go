package rag

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/models"
)

// fakeEmbedder maps text to a small deterministic vector.
type fakeEmbedder struct {
	mu        sync.Mutex
	batchErr  error
	singleErr map[string]error
	embedErr  error
	hang      bool
	calls     int
}

func vectorFor(text string) []float32 {
	return []float32{
		float32(len(text)%17) + 1,
		float32(strings.Count(text, "a")) + 1,
		float32(strings.Count(text, " ")) + 1,
	}
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.hang {
		<-ctx.Done()
		return nil, models.StageError(models.ErrEmbedding, "embed", ctx.Err())
	}
	if f.embedErr != nil {
		return nil, models.StageError(models.ErrEmbedding, "embed", f.embedErr)
	}
	if f.batchErr != nil && len(texts) > 1 {
		return nil, models.StageError(models.ErrEmbedding, "embed", f.batchErr)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if err, ok := f.singleErr[text]; ok {
		return nil, models.StageError(models.ErrEmbedding, "embed", err)
	}
	v, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

// fakeGenerator replays deltas, optionally failing after failAfter of them.
type fakeGenerator struct {
	deltas    []string
	failAfter int // <0 never
	openErr   error
	hang      bool
	prompts   []PromptInput
}

func newFakeGenerator(deltas ...string) *fakeGenerator {
	return &fakeGenerator{deltas: deltas, failAfter: -1}
}

func (g *fakeGenerator) Stream(ctx context.Context, in PromptInput) (<-chan llm.StreamChunk, error) {
	g.prompts = append(g.prompts, in)
	if g.openErr != nil {
		return nil, models.StageError(models.ErrGeneration, "open", g.openErr)
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		if g.hang {
			<-ctx.Done()
			return
		}
		for i, d := range g.deltas {
			if i == g.failAfter {
				select {
				case ch <- llm.StreamChunk{Done: true, Error: errors.New("upstream reset")}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- llm.StreamChunk{Content: d}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- llm.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

type fakeCompleter struct {
	answer string
	err    error
	calls  int
}

func (c *fakeCompleter) Complete(_ context.Context, msgs []llm.Message) (*llm.ChatResponse, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &llm.ChatResponse{Content: c.answer}, nil
}

func (c *fakeCompleter) Model() string { return "fake-model" }

type mapSources map[string]models.Source

func (m mapSources) Get(_ context.Context, slug string) (models.Source, error) {
	s, ok := m[slug]
	if !ok {
		return models.Source{}, models.ErrNotFound
	}
	return s, nil
}
