package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"

	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

// MockEmbedder hashes lower-cased words into a normalized bag-of-words vector.
// Texts sharing words land close together, which is enough for offline runs
// and tests. Tokens are counted as words.
type MockEmbedder struct {
	dimension int
	calls     atomic.Int64
}

var _ port.Embedder = (*MockEmbedder)(nil)

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) Embed(_ context.Context, text string) (domain.Embedding, error) {
	e.calls.Add(1)
	return domain.Embedding{Vector: e.vector(text), Tokens: len(strings.Fields(text))}, nil
}

func (e *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, int, error) {
	e.calls.Add(1)
	vectors := make([][]float32, len(texts))
	tokens := 0
	for i, text := range texts {
		vectors[i] = e.vector(text)
		tokens += len(strings.Fields(text))
	}
	return vectors, tokens, nil
}

// Calls returns the number of Embed and EmbedBatch calls made so far.
func (e *MockEmbedder) Calls() int {
	return int(e.calls.Load())
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}

func (e *MockEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(word, ".,;:!?\"'()")))
		v[h.Sum32()%uint32(e.dimension)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}
