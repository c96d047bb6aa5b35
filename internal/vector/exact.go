package vector

import (
	"context"
	"fmt"
)

// ExactIndex compares the query against every stored vector.
// Used for corpora too small to train a quantizer.
type ExactIndex struct {
	dim  int
	n    int
	data []float32 // n*dim, row-major
}

// NewExactIndex copies vectors into a flat index. All vectors must have length dim.
func NewExactIndex(dim int, vectors [][]float32) (*ExactIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	data := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if err := checkVector(v, dim); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		data = append(data, v...)
	}
	return &ExactIndex{dim: dim, n: len(vectors), data: data}, nil
}

func (e *ExactIndex) Kind() Kind { return KindExact }
func (e *ExactIndex) Dim() int   { return e.dim }
func (e *ExactIndex) Len() int   { return e.n }

// Search scans all vectors.
func (e *ExactIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := checkVector(query, e.dim); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || e.n == 0 {
		return nil, nil
	}
	hits := make([]Hit, e.n)
	for i := 0; i < e.n; i++ {
		hits[i] = Hit{Index: i, Distance: SquaredL2(query, e.row(i))}
	}
	return topK(hits, k), nil
}

func (e *ExactIndex) row(i int) []float32 {
	return e.data[i*e.dim : (i+1)*e.dim]
}
