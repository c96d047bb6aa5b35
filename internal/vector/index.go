// Package vector provides the searchable indexes built over passage embeddings.
package vector

import (
	"context"
	"math"
	"sort"

	"github.com/hyperjump/saiten/internal/errs"
)

// Kind tags the index variant.
type Kind string

const (
	// KindExact is a brute-force index over raw vectors.
	KindExact Kind = "exact"
	// KindQuantized is an inverted-file index with product-quantized residuals.
	KindQuantized Kind = "quantized"
)

// Index is a read-only vector index. Implementations are safe for concurrent Search.
type Index interface {
	// Search returns up to k hits ordered by ascending squared L2 distance, ties by ascending index.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Kind() Kind
	Dim() int
	Len() int
}

// Hit is one search result; Index is the position of the vector (and its passage) at build time.
type Hit struct {
	Index    int
	Distance float32
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Index < hits[j].Index
	})
}

func topK(hits []Hit, k int) []Hit {
	sortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

func checkVector(v []float32, dim int) error {
	if len(v) == 0 {
		return errs.InvalidInput("empty vector")
	}
	if len(v) != dim {
		return errs.InvalidInput("vector dimension mismatch: got %d, expected %d", len(v), dim)
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errs.InvalidInput("vector contains NaN or Inf")
		}
	}
	return nil
}
