//go:build integration

package conversation

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragconverse/internal/config"
	"github.com/nikhilbhutani/ragconverse/internal/database"
	"github.com/nikhilbhutani/ragconverse/internal/models"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./internal/conversation/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPool(ctx, config.DatabaseConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.RunMigrations(ctx, pool, database.MigrationsFS("")))
	pool.Reset()
	return pool
}

func TestPostgresStoreAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)
	s := NewPostgresStore(pool)

	conv, err := s.GetOrCreate(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { pool.Exec(context.Background(), "DELETE FROM conversations WHERE id = $1", conv.ID) })

	got, err := s.GetOrCreate(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	first, err := s.AppendMessages(ctx, conv.ID, []models.Message{
		{Role: models.RoleUser, Content: "q1"},
		{Role: models.RoleAssistant, Content: "a1"},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.True(t, first[1].CreatedAt.After(first[0].CreatedAt))

	_, err = s.AppendMessages(ctx, conv.ID, []models.Message{
		{Role: models.RoleUser, Content: "q2"},
		{Role: models.RoleAssistant, Content: "a2"},
	})
	require.NoError(t, err)

	recent, err := s.LoadRecentHistory(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"a1", "q2", "a2"}, []string{recent[0].Content, recent[1].Content, recent[2].Content})
	for i := 1; i < len(recent); i++ {
		assert.True(t, recent[i].CreatedAt.After(recent[i-1].CreatedAt))
	}

	all, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, models.RoleUser, all[0].Role)
}

func TestPostgresStoreUnknownConversation(t *testing.T) {
	ctx := context.Background()
	s := NewPostgresStore(testPool(t))

	_, err := s.GetOrCreate(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.GetOrCreate(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.AppendMessages(ctx, uuid.NewString(), []models.Message{{Role: models.RoleUser, Content: "q"}})
	assert.ErrorIs(t, err, models.ErrNotFound)

	msgs, err := s.ListMessages(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
