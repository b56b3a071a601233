package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"doctriage/internal/domain"
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates one Qdrant collection per domain
// collection lazily, sized by the first vector it sees.
type Storage struct {
	url     string
	apiKey  string
	prefix  string
	client  *http.Client
	mu      sync.Mutex
	created map[domain.Collection]bool
}

type Config struct {
	URL    string
	APIKey string
	// Prefix is prepended to collection names, e.g. "triage_" -> "triage_papers".
	Prefix  string
	Timeout time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:     strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		prefix:  cfg.Prefix,
		client:  &http.Client{Timeout: timeout},
		created: make(map[domain.Collection]bool),
	}
}

// PointID maps an arbitrary record ID to the UUID Qdrant requires.
func PointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func (s *Storage) name(c domain.Collection) string { return s.prefix + string(c) }

func (s *Storage) ensure(ctx context.Context, c domain.Collection, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created[c] {
		return nil
	}
	var info struct {
		Status string `json:"status"`
	}
	// GET first: PUT on an existing collection is rejected
	if status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", s.url, s.name(c)), nil, &info); err == nil {
		s.created[c] = true
		return nil
	} else if status != http.StatusNotFound {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.do(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", s.url, s.name(c)), body, nil); err != nil {
		return err
	}
	s.created[c] = true
	return nil
}

func (s *Storage) Upsert(ctx context.Context, collection domain.Collection, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensure(ctx, collection, len(records[0].Embedding)); err != nil {
		return err
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     PointID(r.ID),
			"vector": r.Embedding,
			"payload": map[string]any{
				"record_id": r.ID,
				"document":  r.Document,
				"metadata":  r.Metadata,
			},
		}
	}
	body := map[string]any{"points": points}
	_, err := s.do(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.name(collection)), body, nil)
	return err
}

type point struct {
	Score   float64 `json:"score"`
	Payload struct {
		RecordID string            `json:"record_id"`
		Document string            `json:"document"`
		Metadata map[string]string `json:"metadata"`
	} `json:"payload"`
	Vector []float32 `json:"vector"`
}

func (p point) record() domain.Record {
	return domain.Record{
		ID:        p.Payload.RecordID,
		Document:  p.Payload.Document,
		Metadata:  p.Payload.Metadata,
		Embedding: p.Vector,
	}
}

func (s *Storage) Search(ctx context.Context, collection domain.Collection, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 3
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []point `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.name(collection)), req, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		results = append(results, domain.SearchResult{Record: p.record(), Score: p.Score})
	}
	return results, nil
}

func (s *Storage) List(ctx context.Context, collection domain.Collection) ([]domain.Record, error) {
	var out []domain.Record
	var offset any
	for {
		req := map[string]any{
			"limit":        256,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []point `json:"points"`
				NextPageOffset any     `json:"next_page_offset"`
			} `json:"result"`
		}
		status, err := s.do(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/scroll", s.url, s.name(collection)), req, &resp)
		if status == http.StatusNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			out = append(out, p.record())
		}
		if resp.Result.NextPageOffset == nil {
			return out, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (s *Storage) Close() error { return nil }

func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal qdrant request: %w", err)
		}
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
