package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name      string
	failures  int
	calls     int
	chunks    []string
	streamErr error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) ChatCompletion(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("boom")
	}
	return &ChatResponse{Provider: s.name, Model: req.Model, Content: "ok"}, nil
}

func (s *stubProvider) ChatCompletionStream(ctx context.Context, _ ChatRequest) (<-chan StreamChunk, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range s.chunks {
			if !send(ctx, ch, StreamChunk{Content: c}) {
				return
			}
		}
		send(ctx, ch, StreamChunk{Done: true})
	}()
	return ch, nil
}

func TestGatewayChatRetriesThenSucceeds(t *testing.T) {
	p := &stubProvider{name: "openai", failures: 1}
	g := NewGatewayWithProviders(map[string]Provider{"openai": p}, "openai", "", 2)

	resp, err := g.Chat(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, p.calls)
}

func TestGatewayChatFallsBack(t *testing.T) {
	primary := &stubProvider{name: "openai", failures: 10}
	fallback := &stubProvider{name: "ollama"}
	g := NewGatewayWithProviders(map[string]Provider{"openai": primary, "ollama": fallback}, "openai", "ollama", 0)

	resp, err := g.Chat(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, 1, primary.calls)
}

func TestGatewayUnknownProvider(t *testing.T) {
	g := NewGatewayWithProviders(map[string]Provider{}, "openai", "", 0)
	_, err := g.Chat(context.Background(), ChatRequest{})
	assert.Error(t, err)
	_, err = g.ChatStream(context.Background(), ChatRequest{})
	assert.Error(t, err)
}

func TestGatewayChatStream(t *testing.T) {
	p := &stubProvider{name: "openai", chunks: []string{"Hel", "lo"}}
	g := NewGatewayWithProviders(map[string]Provider{"openai": p}, "openai", "", 0)

	ch, err := g.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	var got string
	var done bool
	for c := range ch {
		got += c.Content
		done = c.Done
	}
	assert.Equal(t, "Hello", got)
	assert.True(t, done)
}

func TestGatewayChatStreamFallbackOnOpen(t *testing.T) {
	primary := &stubProvider{name: "openai", streamErr: errors.New("unavailable")}
	fallback := &stubProvider{name: "anthropic", chunks: []string{"x"}}
	g := NewGatewayWithProviders(map[string]Provider{"openai": primary, "anthropic": fallback}, "openai", "anthropic", 0)

	ch, err := g.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)
	first := <-ch
	assert.Equal(t, "x", first.Content)
	for range ch {
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	p := &stubProvider{name: "openai", chunks: []string{"a", "b", "c"}}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.ChatCompletionStream(ctx, ChatRequest{})
	require.NoError(t, err)

	<-ch
	cancel()
	// The producer must close the channel instead of blocking forever.
	for range ch {
	}
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 0.00015+0.0006, CalculateCost("gpt-4o-mini", 1000, 1000), 1e-12)
	assert.InDelta(t, 0.00027, CalculateCost("deepseek-chat", 1000, 0), 1e-12)
	assert.Zero(t, CalculateCost("unknown-model", 1000, 1000))
}
