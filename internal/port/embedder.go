package port

import (
	"context"

	"github.com/step6836/CloudRAG/internal/domain"
)

// Embedder converts text into fixed-dimension vectors and reports token usage.
type Embedder interface {
	// Embed embeds a single text.
	Embed(ctx context.Context, text string) (domain.Embedding, error)

	// EmbedBatch embeds texts in order and returns the total tokens used.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex is an append-only nearest-neighbour index addressed by position.
type VectorIndex interface {
	// Search returns up to k neighbours ordered by ascending distance.
	Search(query []float32, k int) ([]Neighbor, error)

	// Len returns the number of vectors in the index.
	Len() int

	// Dimension returns the vector dimension, or 0 for an empty index.
	Dimension() int
}

// Neighbor is a search hit.
type Neighbor struct {
	Position int
	Distance float32
}
