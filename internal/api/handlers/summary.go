package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
)

type SummaryHandler struct {
	summarizer *rag.Summarizer
}

func NewSummaryHandler(s *rag.Summarizer) *SummaryHandler {
	return &SummaryHandler{summarizer: s}
}

func (h *SummaryHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		writeBadRequest(w, "slug is required")
		return
	}

	text, cached, err := h.summarizer.Summary(r.Context(), slug)
	if errors.Is(err, models.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "post not found", Code: models.Code(err)})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": text, "cached": cached})
}
