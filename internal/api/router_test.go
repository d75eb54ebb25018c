package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragconverse/internal/api/middleware"
	"github.com/nikhilbhutani/ragconverse/internal/config"
	"github.com/nikhilbhutani/ragconverse/internal/conversation"
	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/queue"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
	"github.com/nikhilbhutani/ragconverse/internal/vectorstore"
	"github.com/nikhilbhutani/ragconverse/pkg/eventstream"
)

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 1}
	}
	return out, nil
}

func (constEmbedder) EmbedSingle(context.Context, string) ([]float32, error) {
	return []float32{1, 1}, nil
}

type scriptedGenerator struct{ deltas []string }

func (g scriptedGenerator) Stream(ctx context.Context, _ rag.PromptInput) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, len(g.deltas)+1)
	for _, d := range g.deltas {
		ch <- llm.StreamChunk{Content: d}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, []llm.Message) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "A short summary."}, nil
}

func (stubCompleter) Model() string { return "stub" }

type stubSources map[string]models.Source

func (s stubSources) Get(_ context.Context, slug string) (models.Source, error) {
	src, ok := s[slug]
	if !ok {
		return models.Source{}, models.ErrNotFound
	}
	return src, nil
}

func (s stubSources) Load(context.Context) ([]models.Source, error) {
	out := make([]models.Source, 0, len(s))
	for _, src := range s {
		out = append(out, src)
	}
	return out, nil
}

type recordingQueue struct {
	payloads []queue.IngestSourcePayload
	pending  map[string]bool
}

func (q *recordingQueue) EnqueueIngestSource(_ context.Context, p queue.IngestSourcePayload) error {
	if q.pending[p.SourceID] {
		return queue.ErrAlreadyQueued
	}
	q.payloads = append(q.payloads, p)
	return nil
}

type testServer struct {
	handler http.Handler
	store   *conversation.MemoryStore
	queue   *recordingQueue
}

const adminSecret = "admin-secret"

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	index := vectorstore.NewMemoryStore()
	require.NoError(t, index.Upsert(ctx, vectorstore.Record{
		ID:     rag.ChunkID("hello-world", 0),
		Vector: []float32{1, 1},
		Metadata: vectorstore.Metadata{
			SourceID:    "hello-world",
			SourceTitle: "Hello World",
			Text:        "hello from the blog",
		},
	}))

	store := conversation.NewMemoryStore(10, 100)
	retriever := rag.NewRetriever(index, constEmbedder{}, rag.RetrieverOptions{TopK: 3})
	orch := rag.NewOrchestrator(store, retriever, nil, scriptedGenerator{deltas: []string{"Hi", " there"}},
		rag.OrchestratorOptions{GenerateTimeout: time.Second})

	sources := stubSources{"hello-world": {ID: "hello-world", Title: "Hello World", Text: "hello"}}
	q := &recordingQueue{pending: map[string]bool{}}

	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}, RateLimitRPS: 1000, RateLimitBurst: 1000},
		Auth:   config.AuthConfig{AdminJWTSecret: adminSecret},
	}
	rt := NewRouter(cfg, Deps{
		Orchestrator:  orch,
		Conversations: store,
		Summarizer:    rag.NewSummarizer(sources, stubCompleter{}, rag.NewMemorySummaryStore(), nil),
		Sources:       sources,
		Queue:         q,
	})
	return &testServer{handler: rt.Setup(ctx), store: store, queue: q}
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func TestQueryStreamsEventsAndPersists(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/rag/query", `{"query":"say hello"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	var events []eventstream.Event
	err := eventstream.ReadAll(context.Background(), bytes.NewReader(rec.Body.Bytes()), func(e eventstream.Event) bool {
		events = append(events, e)
		return true
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "Hi", events[0].Content)
	assert.Equal(t, " there", events[1].Content)
	require.Len(t, events[0].Sources, 1)
	assert.Equal(t, "Hello World", events[0].Sources[0].Title)
	assert.Equal(t, eventstream.TypeComplete, events[2].Type)

	convID := events[2].ConversationID
	require.NotEmpty(t, convID)

	rec = s.do(t, http.MethodGet, "/api/chat/history?conversationId="+convID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Messages []models.Message `json:"messages"`
	}
	decodeBody(t, rec, &hist)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, models.RoleUser, hist.Messages[0].Role)
	assert.Equal(t, "say hello", hist.Messages[0].Content)
	assert.Equal(t, "Hi there", hist.Messages[1].Content)
}

func TestQueryErrorsBeforeStream(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
		code string
	}{
		{"bad json", `{`, http.StatusBadRequest, "validation_error"},
		{"empty query", `{"query":"  "}`, http.StatusBadRequest, "validation_error"},
		{"unknown conversation", `{"query":"hi","conversationId":"7b0c5b8e-0000-4000-8000-000000000000"}`, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/rag/query", tt.body, nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body map[string]string
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestAnswerReturnsWholeAnswer(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/rag/answer", `{"query":"say hello"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Answer         string               `json:"answer"`
		ConversationID string               `json:"conversationId"`
		Sources        []eventstream.Source `json:"sources"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "Hi there", body.Answer)
	assert.Len(t, body.Sources, 1)

	msgs, err := s.store.ListMessages(context.Background(), body.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestHistoryRequiresConversationID(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/chat/history", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummary(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/posts/hello-world/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Summary string `json:"summary"`
		Cached  bool   `json:"cached"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "A short summary.", body.Summary)
	assert.False(t, body.Cached)

	rec = s.do(t, http.MethodGet, "/api/posts/hello-world/summary", "", nil)
	decodeBody(t, rec, &body)
	assert.True(t, body.Cached)

	rec = s.do(t, http.MethodGet, "/api/posts/missing/summary", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AdminClaims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := tok.SignedString([]byte(adminSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestAdminIngest(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/ingest", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, s.queue.payloads)

	auth := map[string]string{"Authorization": adminToken(t)}
	rec = s.do(t, http.MethodPost, "/api/admin/ingest", "", auth)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, s.queue.payloads, 1)
	assert.Equal(t, "hello-world", s.queue.payloads[0].SourceID)

	s.queue.pending["hello-world"] = true
	rec = s.do(t, http.MethodPost, "/api/admin/ingest", `{"sourceIds":["hello-world"],"chunkSize":300,"chunkOverlap":30}`, auth)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body struct {
		Queued  []string `json:"queued"`
		Pending []string `json:"pending"`
	}
	decodeBody(t, rec, &body)
	assert.Empty(t, body.Queued)
	assert.Equal(t, []string{"hello-world"}, body.Pending)

	rec = s.do(t, http.MethodPost, "/api/admin/ingest", `{"chunkSize":100,"chunkOverlap":100}`, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminIngestRejectsBadChunkOptions(t *testing.T) {
	s := newTestServer(t)
	auth := map[string]string{"Authorization": adminToken(t)}

	for body, want := range map[string]string{
		`{"chunkOverlap":40}`:                  "chunkOverlap requires chunkSize",
		`{"chunkSize":-1}`:                     "must not be negative",
		`{"chunkSize":100,"chunkOverlap":100}`: "smaller than chunkSize",
		`{"strategy":"semantic"}`:              "strategy",
	} {
		rec := s.do(t, http.MethodPost, "/api/admin/ingest", body, auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), want, body)
	}
	assert.Empty(t, s.queue.payloads)
}

func TestAdminIngestPassesStrategy(t *testing.T) {
	s := newTestServer(t)
	auth := map[string]string{"Authorization": adminToken(t)}

	rec := s.do(t, http.MethodPost, "/api/admin/ingest", `{"sourceIds":["hello-world"],"strategy":"fixed"}`, auth)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, s.queue.payloads, 1)
	assert.Equal(t, "fixed", s.queue.payloads[0].Strategy)
	assert.Zero(t, s.queue.payloads[0].ChunkSize)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
