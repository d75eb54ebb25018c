package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/ragconverse/internal/config"
)

type gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	fallbackProvider string
	maxRetries       int
}

func NewGateway(cfg config.LLMConfig) Gateway {
	providers := make(map[string]Provider)
	if cfg.OpenAIKey != "" {
		providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	}
	if cfg.AnthropicKey != "" {
		providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicKey)
	}
	if cfg.OllamaURL != "" {
		providers["ollama"] = NewOllamaProvider(cfg.OllamaURL)
	}
	return NewGatewayWithProviders(providers, cfg.DefaultProvider, cfg.FallbackProvider, cfg.MaxRetries)
}

// NewGatewayWithProviders builds a gateway over an explicit provider set.
func NewGatewayWithProviders(providers map[string]Provider, defaultProvider, fallbackProvider string, maxRetries int) Gateway {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &gateway{
		providers:        providers,
		defaultProvider:  defaultProvider,
		fallbackProvider: fallbackProvider,
		maxRetries:       maxRetries,
	}
}

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	resp, err := g.chatWithRetry(ctx, providerName, req)
	if err != nil && ctx.Err() == nil && g.fallbackProvider != "" && g.fallbackProvider != providerName {
		slog.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

func (g *gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			slog.Debug("retrying LLM call", "provider", providerName, "attempt", attempt)
		}

		resp, err := p.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all retries exhausted for %s: %w", providerName, lastErr)
}

// ChatStream opens a stream on the requested provider. Fallback only applies
// to opening the stream; once deltas have been delivered a failure is final.
func (g *gateway) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	ch, err := g.openStream(ctx, providerName, req)
	if err != nil && ctx.Err() == nil && g.fallbackProvider != "" && g.fallbackProvider != providerName {
		slog.Warn("primary provider stream failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		return g.openStream(ctx, g.fallbackProvider, req)
	}
	return ch, err
}

func (g *gateway) openStream(ctx context.Context, providerName string, req ChatRequest) (<-chan StreamChunk, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}
	return p.ChatCompletionStream(ctx, req)
}

// NewEmbedder returns the embedding backend selected by cfg.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding provider openai: missing api key")
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case "ollama":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("embedding provider ollama: missing base url")
		}
		return NewOllamaProvider(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
