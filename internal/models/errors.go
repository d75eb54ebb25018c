package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikhilbhutani/ragconverse/pkg/eventstream"
)

var (
	// ErrConfiguration means required credentials or settings are missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound means a referenced conversation or source does not exist.
	ErrNotFound = errors.New("not found")

	ErrEmbedding   = errors.New("embedding failure")
	ErrRetrieval   = errors.New("retrieval failure")
	ErrGeneration  = errors.New("generation failure")
	ErrPersistence = errors.New("persistence failure")

	// ErrFrameDecode marks a single event frame that could not be parsed.
	ErrFrameDecode = eventstream.ErrMalformedFrame

	// ErrValidation means the request body or its fields are malformed.
	ErrValidation = errors.New("validation error")

	// ErrTimeout is joined with the stage error when an external call runs
	// past its deadline.
	ErrTimeout = errors.New("timeout")
)

// StageError tags err with the stage sentinel. A deadline expiry is also
// tagged with ErrTimeout so callers can tell a slow dependency from a failing one.
func StageError(stage error, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w: %w", op, stage, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, stage, err)
}

// Code returns a stable identifier for the first taxonomy error found in err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrEmbedding):
		return "embedding_failure"
	case errors.Is(err, ErrRetrieval):
		return "retrieval_failure"
	case errors.Is(err, ErrGeneration):
		return "generation_failure"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrFrameDecode):
		return "frame_decode_error"
	default:
		return "internal_error"
	}
}
