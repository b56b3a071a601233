package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"doctriage/internal/domain"
	"doctriage/internal/vectorstore"
)

// FileName is the database file created inside the configured store directory.
const FileName = "triage.sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	document   TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (collection, id)
)`

// Storage keeps records in a single SQLite table; embeddings are stored as
// little-endian float32 blobs and ranked in process.
type Storage struct {
	db *sql.DB
}

// Open creates dir if needed and opens the database inside it.
func Open(ctx context.Context, dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Upsert(ctx context.Context, collection domain.Collection, records []domain.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO records (collection, id, document, embedding, metadata)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET
	document = excluded.document,
	embedding = excluded.embedding,
	metadata = excluded.metadata`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID == "" {
			return errors.New("record id is required")
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, string(collection), r.ID, r.Document, EncodeEmbedding(r.Embedding), string(meta)); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Storage) Search(ctx context.Context, collection domain.Collection, vector []float32, topK int) ([]domain.SearchResult, error) {
	records, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	return vectorstore.Rank(records, vector, topK), nil
}

func (s *Storage) List(ctx context.Context, collection domain.Collection) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, embedding, metadata FROM records WHERE collection = ? ORDER BY rowid`, string(collection))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var (
			r    domain.Record
			blob []byte
			meta string
		)
		if err := rows.Scan(&r.ID, &r.Document, &blob, &meta); err != nil {
			return nil, err
		}
		r.Embedding = DecodeEmbedding(blob)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Storage) Close() error { return s.db.Close() }

// EncodeEmbedding packs v as little-endian float32 values.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding is the inverse of EncodeEmbedding. Trailing bytes are ignored.
func DecodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
