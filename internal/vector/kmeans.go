package vector

import (
	"context"
	"math"
	"math/rand/v2"
)

// kmeans clusters n points of dimension d (flat, row-major) into k centroids with Lloyd iterations.
// Initial centroids are a seeded sample of distinct points; an emptied cluster is reseeded from the
// point farthest from its centroid so every centroid stays populated. Requires n >= k.
func kmeans(ctx context.Context, data []float32, n, d, k, iters int, rng *rand.Rand) []float32 {
	centroids := make([]float32, k*d)
	perm := rng.Perm(n)
	for c := 0; c < k; c++ {
		copy(centroids[c*d:(c+1)*d], data[perm[c]*d:(perm[c]+1)*d])
	}

	assign := make([]int, n)
	dist := make([]float32, n)
	sums := make([]float64, k*d)
	counts := make([]int, k)

	for it := 0; it < iters; it++ {
		if ctx.Err() != nil {
			break
		}
		changed := assignPoints(data, n, d, centroids, k, assign, dist)
		if it > 0 && !changed {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			c := assign[i]
			counts[c]++
			row := data[i*d : (i+1)*d]
			acc := sums[c*d : (c+1)*d]
			for j, v := range row {
				acc[j] += float64(v)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				far := farthest(dist)
				copy(centroids[c*d:(c+1)*d], data[far*d:(far+1)*d])
				dist[far] = 0
				continue
			}
			inv := 1 / float64(counts[c])
			for j := 0; j < d; j++ {
				centroids[c*d+j] = float32(sums[c*d+j] * inv)
			}
		}
	}
	return centroids
}

// assignPoints sets assign[i] to the nearest centroid of point i and reports whether any changed.
func assignPoints(data []float32, n, d int, centroids []float32, k int, assign []int, dist []float32) bool {
	changed := false
	for i := 0; i < n; i++ {
		c, dd := nearest(data[i*d:(i+1)*d], centroids, k, d)
		if assign[i] != c {
			changed = true
		}
		assign[i] = c
		dist[i] = dd
	}
	return changed
}

// nearest returns the index of the closest centroid and its squared distance.
func nearest(v, centroids []float32, k, d int) (int, float32) {
	best, bestDist := 0, float32(math.MaxFloat32)
	for c := 0; c < k; c++ {
		dd := SquaredL2(v, centroids[c*d:(c+1)*d])
		if dd < bestDist {
			best, bestDist = c, dd
		}
	}
	return best, bestDist
}

func farthest(dist []float32) int {
	idx := 0
	for i, v := range dist {
		if v > dist[idx] {
			idx = i
		}
	}
	return idx
}
