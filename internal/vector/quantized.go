package vector

import (
	"context"
	"sort"
)

// QuantizedIndex is an inverted-file index: vectors are bucketed by their nearest coarse centroid and
// stored as product-quantized codes of the residual. Search visits the nvisit closest buckets and
// scores entries with per-query distance tables, so distances are approximate.
type QuantizedIndex struct {
	dim    int
	n      int
	nlist  int
	m      int
	bits   int
	nvisit int

	coarse    []float32 // nlist*dim
	codebooks []float32 // m * ksub * dsub
	lists     [][]int32 // vector ids per bucket
	codes     [][]byte  // m bytes per entry, parallel to lists
}

func (q *QuantizedIndex) Kind() Kind { return KindQuantized }
func (q *QuantizedIndex) Dim() int   { return q.dim }
func (q *QuantizedIndex) Len() int   { return q.n }

// NList returns the number of coarse buckets.
func (q *QuantizedIndex) NList() int { return q.nlist }

// Bits returns the code width per sub-quantizer.
func (q *QuantizedIndex) Bits() int { return q.bits }

// SubQuantizers returns m.
func (q *QuantizedIndex) SubQuantizers() int { return q.m }

func (q *QuantizedIndex) ksub() int { return 1 << q.bits }
func (q *QuantizedIndex) dsub() int { return q.dim / q.m }

// Search visits the nearest buckets and ranks their entries by approximate distance.
func (q *QuantizedIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := checkVector(query, q.dim); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || q.n == 0 {
		return nil, nil
	}

	visits := q.visitOrder(query)
	ksub, dsub := q.ksub(), q.dsub()
	residual := make([]float32, q.dim)
	table := make([]float32, q.m*ksub)
	var hits []Hit

	for _, list := range visits {
		if len(q.lists[list]) == 0 {
			continue
		}
		centroid := q.coarse[list*q.dim : (list+1)*q.dim]
		for j := range residual {
			residual[j] = query[j] - centroid[j]
		}
		for s := 0; s < q.m; s++ {
			sub := residual[s*dsub : (s+1)*dsub]
			book := q.codebooks[s*ksub*dsub : (s+1)*ksub*dsub]
			for c := 0; c < ksub; c++ {
				table[s*ksub+c] = SquaredL2(sub, book[c*dsub:(c+1)*dsub])
			}
		}
		codes := q.codes[list]
		for e, id := range q.lists[list] {
			code := codes[e*q.m : (e+1)*q.m]
			var d float32
			for s, c := range code {
				d += table[s*ksub+int(c)]
			}
			hits = append(hits, Hit{Index: int(id), Distance: d})
		}
	}
	return topK(hits, k), nil
}

// visitOrder returns the nvisit bucket ids closest to the query.
func (q *QuantizedIndex) visitOrder(query []float32) []int {
	type bucket struct {
		id   int
		dist float32
	}
	buckets := make([]bucket, q.nlist)
	for c := 0; c < q.nlist; c++ {
		buckets[c] = bucket{id: c, dist: SquaredL2(query, q.coarse[c*q.dim:(c+1)*q.dim])}
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].dist != buckets[j].dist {
			return buckets[i].dist < buckets[j].dist
		}
		return buckets[i].id < buckets[j].id
	})
	nvisit := q.nvisit
	if nvisit <= 0 || nvisit > q.nlist {
		nvisit = q.nlist
	}
	out := make([]int, nvisit)
	for i := range out {
		out[i] = buckets[i].id
	}
	return out
}

// encode appends the PQ code of residual to dst.
func (q *QuantizedIndex) encode(dst []byte, residual []float32) []byte {
	ksub, dsub := q.ksub(), q.dsub()
	for s := 0; s < q.m; s++ {
		book := q.codebooks[s*ksub*dsub : (s+1)*ksub*dsub]
		c, _ := nearest(residual[s*dsub:(s+1)*dsub], book, ksub, dsub)
		dst = append(dst, byte(c))
	}
	return dst
}
