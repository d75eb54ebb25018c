package rag

import (
	"strconv"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/pkg/chunker"
	"github.com/nikhilbhutani/ragconverse/pkg/tokenizer"
)

// Chunk is one embeddable piece of a source. ID is stable across runs for
// the same source and chunking options.
type Chunk struct {
	ID         string
	SourceID   string
	Index      int
	Text       string
	TokenCount int
}

// TokenCounter estimates the token length of a chunk.
type TokenCounter func(string) int

// ChunkID returns the deterministic id of the index-th chunk of a source.
func ChunkID(sourceID string, index int) string {
	return sourceID + "-chunk-" + strconv.Itoa(index)
}

func ChunkSource(src models.Source, opts chunker.ChunkOptions, count TokenCounter) []Chunk {
	if count == nil {
		count = tokenizer.CountTokens
	}
	pieces := chunker.New().Chunk(src.Text, opts)

	results := make([]Chunk, len(pieces))
	for i, p := range pieces {
		results[i] = Chunk{
			ID:         ChunkID(src.ID, p.Index),
			SourceID:   src.ID,
			Index:      p.Index,
			Text:       p.Content,
			TokenCount: count(p.Content),
		}
	}
	return results
}
