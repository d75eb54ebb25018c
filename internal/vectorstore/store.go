package vectorstore

import (
	"context"
)

// Metadata travels with every stored vector and comes back on a match.
type Metadata struct {
	SourceTitle string `json:"sourceTitle"`
	SourceID    string `json:"sourceId"`
	ChunkIndex  int    `json:"chunkIndex"`
	Text        string `json:"text"`
	TokenCount  int    `json:"tokenCount,omitempty"`
}

// Record is one chunk vector keyed by its deterministic chunk id.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is a query hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// VectorStore is the vector index. Upsert overwrites any record with the
// same id. Query returns at most topK matches ordered by score descending.
// DeleteSource removes the source's records whose chunk index is at least
// fromIndex and reports how many went; fromIndex 0 removes the whole source.
type VectorStore interface {
	Upsert(ctx context.Context, rec Record) error
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
	DeleteSource(ctx context.Context, sourceID string, fromIndex int) (int, error)
	Count(ctx context.Context) (int, error)
}
