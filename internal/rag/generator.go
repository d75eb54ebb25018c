package rag

import (
	"context"

	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/models"
)

// StreamGenerator produces an answer as a sequence of deltas. The channel
// ends with one chunk that has Done set and, on failure, Error.
type StreamGenerator interface {
	Stream(ctx context.Context, in PromptInput) (<-chan llm.StreamChunk, error)
}

// Generator sends assembled prompts through the LLM gateway.
type Generator struct {
	gateway     llm.Gateway
	provider    string
	model       string
	temperature float64
	maxTokens   int
}

type GeneratorOptions struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

func NewGenerator(gw llm.Gateway, opts GeneratorOptions) *Generator {
	return &Generator{
		gateway:     gw,
		provider:    opts.Provider,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
}

func (g *Generator) request(msgs []llm.Message) llm.ChatRequest {
	return llm.ChatRequest{
		Provider:    g.provider,
		Model:       g.model,
		Messages:    msgs,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
}

// Stream fails with models.ErrGeneration when the stream cannot be opened.
// Errors delivered on the channel are not wrapped.
func (g *Generator) Stream(ctx context.Context, in PromptInput) (<-chan llm.StreamChunk, error) {
	ch, err := g.gateway.ChatStream(ctx, g.request(in.Messages()))
	if err != nil {
		return nil, models.StageError(models.ErrGeneration, "open answer stream", err)
	}
	return ch, nil
}

// Complete runs a non-streaming completion, used for summaries.
func (g *Generator) Complete(ctx context.Context, msgs []llm.Message) (*llm.ChatResponse, error) {
	resp, err := g.gateway.Chat(ctx, g.request(msgs))
	if err != nil {
		return nil, models.StageError(models.ErrGeneration, "generate answer", err)
	}
	return resp, nil
}

// Model reports the configured model name.
func (g *Generator) Model() string { return g.model }
