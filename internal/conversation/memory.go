package conversation

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/ragconverse/internal/models"
)

type memConversation struct {
	conv     models.Conversation
	messages []models.Message
	elem     *list.Element
}

// MemoryStore keeps conversations in process. It is bounded: the least
// recently updated conversation is evicted past maxConversations, and each
// conversation keeps only its newest maxMessages messages.
type MemoryStore struct {
	mu               sync.Mutex
	convs            map[string]*memConversation
	lru              *list.List // front = most recently updated
	maxConversations int
	maxMessages      int
	now              func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(maxConversations, maxMessages int, opts ...MemoryOption) *MemoryStore {
	if maxConversations <= 0 {
		maxConversations = 1000
	}
	if maxMessages <= 0 {
		maxMessages = 200
	}
	s := &MemoryStore{
		convs:            make(map[string]*memConversation),
		lru:              list.New(),
		maxConversations: maxConversations,
		maxMessages:      maxMessages,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		c, ok := s.convs[id]
		if !ok {
			return nil, fmt.Errorf("conversation %q: %w", id, models.ErrNotFound)
		}
		conv := c.conv
		return &conv, nil
	}

	now := s.now().UTC()
	c := &memConversation{conv: models.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}}
	c.elem = s.lru.PushFront(c.conv.ID)
	s.convs[c.conv.ID] = c
	s.evict()

	conv := c.conv
	return &conv, nil
}

func (s *MemoryStore) AppendMessages(_ context.Context, conversationID string, msgs []models.Message) ([]models.Message, error) {
	if err := validateMessages(msgs); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, models.ErrNotFound)
	}

	var last time.Time
	if n := len(c.messages); n > 0 {
		last = c.messages[n-1].CreatedAt
	}
	now := s.now()
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		last = nextTimestamp(now, last)
		m.ID = uuid.NewString()
		m.ConversationID = conversationID
		m.CreatedAt = last
		out[i] = m
	}

	c.messages = append(c.messages, out...)
	if len(c.messages) > s.maxMessages {
		c.messages = append([]models.Message(nil), c.messages[len(c.messages)-s.maxMessages:]...)
	}
	c.conv.UpdatedAt = last
	s.lru.MoveToFront(c.elem)

	return out, nil
}

func (s *MemoryStore) LoadRecentHistory(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, models.ErrNotFound)
	}
	msgs := c.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.Message{}, msgs...), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return []models.Message{}, nil
	}
	return append([]models.Message{}, c.messages...), nil
}

// Len reports how many conversations are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

func (s *MemoryStore) evict() {
	for s.lru.Len() > s.maxConversations {
		back := s.lru.Back()
		id := back.Value.(string)
		s.lru.Remove(back)
		delete(s.convs, id)
	}
}
