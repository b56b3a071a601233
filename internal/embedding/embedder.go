package embedding

import (
	"context"

	"doctriage/internal/domain"
)

// Embedder converts free text into a numeric vector representation.
// The intent lets remote services optimise the vector for storage or lookup;
// implementations without such a notion ignore it.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string, intent domain.Intent) ([]float32, error)
}
