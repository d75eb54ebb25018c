package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force cosine index for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("upsert chunk: empty id")
	}
	v := make([]float32, len(rec.Vector))
	copy(v, rec.Vector)
	rec.Vector = v

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Query(_ context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 3
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.records))
	for _, r := range s.records {
		if len(r.Vector) != len(vector) {
			s.mu.RUnlock()
			return nil, fmt.Errorf("similarity search: dimension %d, index has %d", len(vector), len(r.Vector))
		}
		matches = append(matches, Match{ID: r.ID, Score: cosine(vector, r.Vector), Metadata: r.Metadata})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) DeleteSource(_ context.Context, sourceID string, fromIndex int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.records {
		if r.Metadata.SourceID == sourceID && r.Metadata.ChunkIndex >= fromIndex {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Get returns the stored record, mainly for assertions.
func (s *MemoryStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
