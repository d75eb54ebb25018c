package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type PgVectorStore struct {
	db *pgxpool.Pool
}

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

func (s *PgVectorStore) Upsert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("upsert chunk: empty id")
	}
	embedding := pgvector.NewVector(rec.Vector)
	m := rec.Metadata

	_, err := s.db.Exec(ctx,
		`INSERT INTO document_chunks (id, source_id, source_title, chunk_index, content, token_count, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET source_id = $2, source_title = $3, chunk_index = $4,
		     content = $5, token_count = $6, embedding = $7, updated_at = NOW()`,
		rec.ID, m.SourceID, m.SourceTitle, m.ChunkIndex, m.Text, m.TokenCount, embedding,
	)
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PgVectorStore) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 3
	}

	embedding := pgvector.NewVector(vector)

	rows, err := s.db.Query(ctx,
		`SELECT id, source_id, source_title, chunk_index, content, token_count,
		        1 - (embedding <=> $1) AS score
		 FROM document_chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		embedding, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []Match
	for rows.Next() {
		var r Match
		m := &r.Metadata
		if err := rows.Scan(&r.ID, &m.SourceID, &m.SourceTitle, &m.ChunkIndex, &m.Text, &m.TokenCount, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search rows: %w", err)
	}
	return results, nil
}

func (s *PgVectorStore) DeleteSource(ctx context.Context, sourceID string, fromIndex int) (int, error) {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM document_chunks WHERE source_id = $1 AND chunk_index >= $2", sourceID, fromIndex)
	if err != nil {
		return 0, fmt.Errorf("delete source %s: %w", sourceID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM document_chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}
