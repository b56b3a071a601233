package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctriage/internal/domain"
	"doctriage/internal/vectorstore"
	"doctriage/internal/vectorstore/storetest"
)

type fakePoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant implements the handful of REST endpoints the store uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]map[string]fakePoint
	order       map[string][]string
	creates     []string
	apiKeys     []string
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]map[string]fakePoint{}, order: map[string][]string{}}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "collections" {
		http.NotFound(w, r)
		return
	}
	name := parts[1]
	points, exists := f.collections[name]

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		if !exists {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"status":"green"},"status":"ok"}`))
	case len(parts) == 2 && r.Method == http.MethodPut:
		f.collections[name] = map[string]fakePoint{}
		f.creates = append(f.creates, name)
		_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
	case !exists:
		http.NotFound(w, r)
	case len(parts) == 3 && parts[2] == "points" && r.Method == http.MethodPut:
		var body struct {
			Points []fakePoint `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, p := range body.Points {
			if _, ok := points[p.ID]; !ok {
				f.order[name] = append(f.order[name], p.ID)
			}
			points[p.ID] = p
		}
		_, _ = w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
	case len(parts) == 4 && parts[3] == "search":
		var body struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		type hit struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		var hits []hit
		for _, id := range f.order[name] {
			p := points[id]
			hits = append(hits, hit{ID: id, Score: vectorstore.Cosine(p.Vector, body.Vector), Payload: p.Payload})
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": hits})
	case len(parts) == 4 && parts[3] == "scroll":
		var out []fakePoint
		for _, id := range f.order[name] {
			out = append(out, points[id])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"points": out, "next_page_offset": nil},
		})
	default:
		http.NotFound(w, r)
	}
}

func newStore(t *testing.T, fake *fakeQdrant) *Storage {
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Prefix: "triage_"})
}

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectorstore.Storage {
		return newStore(t, newFakeQdrant())
	})
}

func TestUpsert_CreatesCollectionOnce(t *testing.T) {
	fake := newFakeQdrant()
	s := newStore(t, fake)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Upsert(ctx, domain.Papers, []domain.Record{
			domain.NewPaperRecord("/p/a.pdf", "text", "NLP", []float32{1, 0}),
		}))
	}
	assert.Equal(t, []string{"triage_papers"}, fake.creates)
	assert.Contains(t, fake.collections["triage_papers"], PointID("/p/a.pdf"))
	for _, k := range fake.apiKeys {
		assert.Equal(t, "secret", k)
	}
}

func TestUpsert_ExistingCollectionNotRecreated(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["triage_images"] = map[string]fakePoint{}
	s := newStore(t, fake)

	require.NoError(t, s.Upsert(context.Background(), domain.Images, []domain.Record{
		domain.NewImageRecord("/i/a.jpg", "a dog", []float32{1, 0}),
	}))
	assert.Empty(t, fake.creates)
}

func TestPointID_Stable(t *testing.T) {
	a := PointID("/p/a.pdf")
	assert.Equal(t, a, PointID("/p/a.pdf"))
	assert.NotEqual(t, a, PointID("/p/b.pdf"))
	assert.Len(t, a, 36)
}
