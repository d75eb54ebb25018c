package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/ragconverse/internal/conversation"
	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
	"github.com/nikhilbhutani/ragconverse/pkg/eventstream"
)

type RAGHandler struct {
	orch   *rag.Orchestrator
	store  conversation.Store
	logger *slog.Logger
}

func NewRAGHandler(orch *rag.Orchestrator, store conversation.Store, logger *slog.Logger) *RAGHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGHandler{orch: orch, store: store, logger: logger}
}

func decodeQuery(r *http.Request) (rag.QueryRequest, bool) {
	var req rag.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, false
	}
	return req, true
}

// Query streams the answer as framed events. Failures before the first
// event are plain JSON errors; later failures arrive as an error event.
func (h *RAGHandler) Query(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(r)
	if !ok {
		writeBadRequest(w, "invalid request body")
		return
	}

	x, err := h.orch.Prepare(r.Context(), req)
	if err != nil {
		h.logger.Warn("query rejected", "error", err, "code", models.Code(err))
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := eventstream.NewEncoder(w)
	for evt := range x.Events(r.Context()) {
		if err := enc.Encode(evt); err != nil {
			h.logger.Info("client went away", "conversation_id", x.ConversationID(), "error", err)
			return
		}
	}
}

type answerResponse struct {
	Answer         string               `json:"answer"`
	ConversationID string               `json:"conversationId"`
	Sources        []eventstream.Source `json:"sources"`
}

// Answer generates the whole answer server-side and returns it at once. The
// exchange is persisted exactly as for the streaming route.
func (h *RAGHandler) Answer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(r)
	if !ok {
		writeBadRequest(w, "invalid request body")
		return
	}

	x, err := h.orch.Prepare(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	answer, err := x.Collect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	sources := x.Sources()
	if sources == nil {
		sources = []eventstream.Source{}
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Answer:         answer,
		ConversationID: x.ConversationID(),
		Sources:        sources,
	})
}

func (h *RAGHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("conversationId")
	if id == "" {
		writeBadRequest(w, "conversationId is required")
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("load history failed", "conversation_id", id, "error", err)
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
