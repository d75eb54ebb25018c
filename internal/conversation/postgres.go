package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/ragconverse/internal/models"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	if id == "" {
		newID := uuid.New()
		err := s.db.QueryRow(ctx,
			`INSERT INTO conversations (id) VALUES ($1) RETURNING created_at, updated_at`,
			newID,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w: %w", models.ErrPersistence, err)
		}
		c.ID = newID.String()
		return &c, nil
	}

	u, err := parseID(id)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRow(ctx,
		`SELECT created_at, updated_at FROM conversations WHERE id = $1`, u,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %q: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w: %w", models.ErrPersistence, err)
	}
	c.ID = u.String()
	return &c, nil
}

func (s *PostgresStore) AppendMessages(ctx context.Context, conversationID string, msgs []models.Message) ([]models.Message, error) {
	if err := validateMessages(msgs); err != nil {
		return nil, err
	}
	u, err := parseID(conversationID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w: %w", models.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, u).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w: %w", models.ErrPersistence, err)
	}

	var last *time.Time
	if err := tx.QueryRow(ctx,
		`SELECT max(created_at) FROM messages WHERE conversation_id = $1`, u,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("read last message time: %w: %w", models.ErrPersistence, err)
	}
	prev := time.Time{}
	if last != nil {
		prev = *last
	}

	now := time.Now()
	out := make([]models.Message, len(msgs))
	batch := &pgx.Batch{}
	for i, m := range msgs {
		prev = nextTimestamp(now, prev)
		m.ID = uuid.NewString()
		m.ConversationID = conversationID
		m.CreatedAt = prev
		out[i] = m
		batch.Queue(
			`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			m.ID, u, string(m.Role), m.Content, m.CreatedAt,
		)
	}
	batch.Queue(`UPDATE conversations SET updated_at = $2 WHERE id = $1`, u, prev)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert messages: %w: %w", models.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit messages: %w: %w", models.ErrPersistence, err)
	}
	return out, nil
}

func (s *PostgresStore) LoadRecentHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	u, err := parseID(conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return s.list(ctx, u)
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM (
		     SELECT seq, id, conversation_id, role, content, created_at
		     FROM messages WHERE conversation_id = $1
		     ORDER BY seq DESC LIMIT $2
		 ) recent ORDER BY seq ASC`,
		u, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w: %w", models.ErrPersistence, err)
	}
	return scanMessages(rows)
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	u, err := uuid.Parse(conversationID)
	if err != nil {
		return []models.Message{}, nil
	}
	return s.list(ctx, u)
}

func (s *PostgresStore) list(ctx context.Context, id uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY seq ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w: %w", models.ErrPersistence, err)
	}
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()
	out := []models.Message{}
	for rows.Next() {
		var (
			m        models.Message
			id, conv uuid.UUID
			role     string
		)
		if err := rows.Scan(&id, &conv, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w: %w", models.ErrPersistence, err)
		}
		m.ID = id.String()
		m.ConversationID = conv.String()
		m.Role = models.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan messages: %w: %w", models.ErrPersistence, err)
	}
	return out, nil
}
