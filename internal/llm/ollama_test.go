package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		enc := json.NewEncoder(w)
		_ = enc.Encode(ollamaChatResp{Message: ollamaMessage{Role: "assistant", Content: "Hi "}})
		_ = enc.Encode(ollamaChatResp{Message: ollamaMessage{Role: "assistant", Content: "there"}})
		_ = enc.Encode(ollamaChatResp{Done: true, PromptEvalCount: 3, EvalCount: 2})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL)
	ch, err := p.ChatCompletionStream(context.Background(), ChatRequest{Model: "llama3"})
	require.NoError(t, err)

	var text string
	var last StreamChunk
	for c := range ch {
		text += c.Content
		last = c
	}
	assert.Equal(t, "Hi there", text)
	assert.True(t, last.Done)
	assert.NoError(t, last.Error)
	assert.Equal(t, 2, last.OutputTokens)
}

func TestOllamaStreamTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaChatResp{Message: ollamaMessage{Content: "partial"}})
	}))
	defer srv.Close()

	ch, err := NewOllamaProvider(srv.URL).ChatCompletionStream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	var last StreamChunk
	for c := range ch {
		last = c
	}
	assert.True(t, last.Done)
	assert.Error(t, last.Error)
}

func TestOllamaEmbedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL).GenerateEmbedding(context.Background(), EmbeddingRequest{Input: []string{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResp{Embeddings: [][]float32{{1, 2}, {3, 4}}})
	}))
	defer srv.Close()

	resp, err := NewOllamaProvider(srv.URL).GenerateEmbedding(context.Background(), EmbeddingRequest{Input: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 2)
	assert.Equal(t, "nomic-embed-text", resp.Model)
}
