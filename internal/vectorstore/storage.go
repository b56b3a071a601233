package vectorstore

import (
	"context"
	"math"
	"sort"

	"doctriage/internal/domain"
)

// Storage persists records and supports similarity search per collection.
type Storage interface {
	Upsert(ctx context.Context, collection domain.Collection, records []domain.Record) error
	Search(ctx context.Context, collection domain.Collection, vector []float32, topK int) ([]domain.SearchResult, error)
	List(ctx context.Context, collection domain.Collection) ([]domain.Record, error)
	Close() error
}

// DefaultTopK is used when a caller passes a non-positive k.
const DefaultTopK = 3

// Cosine returns the cosine similarity of a and b over their common prefix.
// Zero vectors score 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// IsZero reports whether v is empty or has zero norm; such a vector matches nothing.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Rank scores every record against vector and returns the best topK,
// highest score first. Backends without native nearest-neighbour search use it.
func Rank(records []domain.Record, vector []float32, topK int) []domain.SearchResult {
	if topK <= 0 {
		topK = DefaultTopK
	}
	results := make([]domain.SearchResult, 0, len(records))
	for _, r := range records {
		results = append(results, domain.SearchResult{Record: r, Score: Cosine(r.Embedding, vector)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK < len(results) {
		results = results[:topK]
	}
	return results
}
