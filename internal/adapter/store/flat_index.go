package store

import (
	"fmt"
	"slices"
	"sort"

	"github.com/step6836/CloudRAG/internal/port"
)

// FlatIndex is an exact L2 nearest-neighbour index over a contiguous float32
// buffer. It is immutable: With returns a new index and leaves the receiver
// untouched, so readers holding the old value never observe a partial append.
type FlatIndex struct {
	dimension int
	data      []float32
}

var _ port.VectorIndex = (*FlatIndex)(nil)

// NewFlatIndex builds an index from vectors, which must share one dimension.
func NewFlatIndex(vectors [][]float32) (*FlatIndex, error) {
	return (&FlatIndex{}).With(vectors)
}

// With returns a new index holding the receiver's vectors followed by vectors.
func (f *FlatIndex) With(vectors [][]float32) (*FlatIndex, error) {
	dim := f.dimension
	size := len(f.data)
	for i, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("vector %d dimension mismatch: expected %d, got %d", i, dim, len(v))
		}
		size += len(v)
	}

	data := slices.Grow(slices.Clip(f.data), size-len(f.data))
	for _, v := range vectors {
		data = append(data, v...)
	}
	return &FlatIndex{dimension: dim, data: data}, nil
}

// Len returns the number of vectors.
func (f *FlatIndex) Len() int {
	if f.dimension == 0 {
		return 0
	}
	return len(f.data) / f.dimension
}

// Dimension returns the vector dimension, or 0 when empty.
func (f *FlatIndex) Dimension() int {
	return f.dimension
}

// Search returns the k nearest positions by squared L2 distance, ascending.
// Ties are broken by position.
func (f *FlatIndex) Search(query []float32, k int) ([]port.Neighbor, error) {
	n := f.Len()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != f.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", f.dimension, len(query))
	}

	scores := make([]port.Neighbor, n)
	for pos := 0; pos < n; pos++ {
		scores[pos] = port.Neighbor{
			Position: pos,
			Distance: squaredL2(query, f.data[pos*f.dimension:(pos+1)*f.dimension]),
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Distance < scores[j].Distance
	})

	if k > n {
		k = n
	}
	return scores[:k], nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
