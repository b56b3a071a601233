package memory

import (
	"context"
	"errors"
	"sync"

	"doctriage/internal/domain"
	"doctriage/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// Records are kept in insertion order; upserting an existing ID replaces it in place.
type Storage struct {
	mu          sync.RWMutex
	collections map[domain.Collection]*collection
}

type collection struct {
	index   map[string]int
	records []domain.Record
}

func NewStorage() *Storage {
	return &Storage{collections: make(map[domain.Collection]*collection)}
}

func (s *Storage) Upsert(_ context.Context, name domain.Collection, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &collection{index: make(map[string]int)}
		s.collections[name] = c
	}
	for _, r := range records {
		if r.ID == "" {
			return errors.New("record id is required")
		}
		if i, ok := c.index[r.ID]; ok {
			c.records[i] = r
			continue
		}
		c.index[r.ID] = len(c.records)
		c.records = append(c.records, r)
	}
	return nil
}

func (s *Storage) Search(_ context.Context, name domain.Collection, vector []float32, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	return vectorstore.Rank(c.records, vector, topK), nil
}

func (s *Storage) List(_ context.Context, name domain.Collection) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Record, len(c.records))
	copy(out, c.records)
	return out, nil
}

func (s *Storage) Close() error { return nil }
