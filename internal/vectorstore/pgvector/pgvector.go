package pgvector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"doctriage/internal/domain"
)

type Config struct {
	DSN         string
	Table       string
	MaxConns    int32
	DialTimeout time.Duration
}

// Storage stores records in a Postgres table with a pgvector column and lets
// the database order by cosine distance.
type Storage struct {
	pool  *pgxpool.Pool
	table string
}

// Open ensures the vector extension and table exist, then returns a pooled store.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pgvector dsn is required")
	}
	if cfg.Table == "" {
		cfg.Table = "triage_records"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 3 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, err := pgx.Connect(dialCtx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	document   TEXT NOT NULL,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding  vector NOT NULL,
	PRIMARY KEY (collection, id)
)`, pgx.Identifier{cfg.Table}.Sanitize()),
	}
	for _, stmt := range ddl {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	_ = conn.Close(ctx)

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, c)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &Storage{pool: pool, table: pgx.Identifier{cfg.Table}.Sanitize()}, nil
}

func (s *Storage) Upsert(ctx context.Context, collection domain.Collection, records []domain.Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		if r.ID == "" {
			return errors.New("record id is required")
		}
		meta := r.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		batch.Queue(fmt.Sprintf(`
INSERT INTO %s (collection, id, document, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (collection, id) DO UPDATE SET
	document = EXCLUDED.document,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding`, s.table),
			string(collection), r.ID, r.Document, meta, pgv.NewVector(r.Embedding))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, collection domain.Collection, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 3
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT id, document, metadata, embedding, 1 - (embedding <=> $2) AS score
FROM %s
WHERE collection = $1
ORDER BY embedding <=> $2
LIMIT $3`, s.table), string(collection), pgv.NewVector(vector), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SearchResult
	for rows.Next() {
		var (
			r     domain.Record
			vec   pgv.Vector
			score float64
		)
		if err := rows.Scan(&r.ID, &r.Document, &r.Metadata, &vec, &score); err != nil {
			return nil, err
		}
		r.Embedding = vec.Slice()
		out = append(out, domain.SearchResult{Record: r, Score: score})
	}
	return out, rows.Err()
}

func (s *Storage) List(ctx context.Context, collection domain.Collection) ([]domain.Record, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, document, metadata, embedding FROM %s WHERE collection = $1 ORDER BY id`, s.table),
		string(collection))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var (
			r   domain.Record
			vec pgv.Vector
		)
		if err := rows.Scan(&r.ID, &r.Document, &r.Metadata, &vec); err != nil {
			return nil, err
		}
		r.Embedding = vec.Slice()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}
