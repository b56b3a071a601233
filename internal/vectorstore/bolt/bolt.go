package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"doctriage/internal/domain"
	"doctriage/internal/vectorstore"
)

// FileName is the database file created inside the configured store directory.
const FileName = "triage.db"

// Storage keeps one bbolt bucket per collection, keyed by record ID.
// Search loads the bucket and ranks it by cosine similarity.
type Storage struct {
	db *bbolt.DB
}

type storedRecord struct {
	ID        string            `json:"id"`
	Document  string            `json:"document"`
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Open creates dir if needed and opens (or creates) the database inside it.
func Open(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(dir, FileName), 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, c := range domain.Collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Upsert(_ context.Context, collection domain.Collection, records []domain.Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		for _, r := range records {
			if r.ID == "" {
				return errors.New("record id is required")
			}
			data, err := json.Marshal(storedRecord(r))
			if err != nil {
				return fmt.Errorf("marshal record %s: %w", r.ID, err)
			}
			if err := b.Put([]byte(r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) Search(ctx context.Context, collection domain.Collection, vector []float32, topK int) ([]domain.SearchResult, error) {
	records, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	return vectorstore.Rank(records, vector, topK), nil
}

func (s *Storage) List(_ context.Context, collection domain.Collection) ([]domain.Record, error) {
	var out []domain.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var r storedRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode record %s: %w", k, err)
			}
			out = append(out, domain.Record(r))
			return nil
		})
	})
	return out, err
}

func (s *Storage) Close() error { return s.db.Close() }
