// Package conversation persists conversations and their append-only
// message logs.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/ragconverse/internal/models"
)

// Store is the durable conversation log. Implementations are safe for
// concurrent use; appends to one conversation are serialised.
type Store interface {
	// GetOrCreate returns the conversation with id, or creates a new one when
	// id is empty. An unknown or malformed id fails with models.ErrNotFound.
	GetOrCreate(ctx context.Context, id string) (*models.Conversation, error)
	// AppendMessages stores msgs atomically, assigning ids and strictly
	// increasing CreatedAt values in slice order.
	AppendMessages(ctx context.Context, conversationID string, msgs []models.Message) ([]models.Message, error)
	// LoadRecentHistory returns the last limit messages in ascending order.
	// limit <= 0 returns every message.
	LoadRecentHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// ListMessages returns every message ascending; an unknown id yields an
	// empty slice.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

func validateMessages(msgs []models.Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("append messages: %w: empty batch", models.ErrValidation)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("append messages: %w: message %d has role %q", models.ErrValidation, i, m.Role)
		}
	}
	return nil
}

func parseID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("conversation %q: %w", id, models.ErrNotFound)
	}
	return u, nil
}

// nextTimestamp returns a time strictly after last, truncated to
// microseconds so Postgres round-trips it unchanged.
func nextTimestamp(now, last time.Time) time.Time {
	t := now.UTC().Truncate(time.Microsecond)
	if !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	return t
}
