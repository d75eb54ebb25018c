package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError renders err with a status derived from its taxonomy. The body
// never carries the internal error text.
func writeError(w http.ResponseWriter, err error) {
	code := models.Code(err)
	writeJSON(w, StatusFor(err), errorBody{Error: rag.PublicMessage(code), Code: code})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: models.Code(models.ErrValidation)})
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmbedding),
		errors.Is(err, models.ErrRetrieval),
		errors.Is(err, models.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
