package vector

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/hyperjump/saiten/internal/errs"
)

func clustered(n, dim, clusters int, seed uint64) [][]float32 {
	rng := rand.New(rand.NewPCG(seed, seed))
	out := make([][]float32, n)
	for i := range out {
		c := i % clusters
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64() * 0.05)
		}
		v[c%dim] += 10
		out[i] = v
	}
	return out
}

func TestPlanFor_belowThresholdIsExact(t *testing.T) {
	p := DefaultBuildParams()
	for n := 0; n <= 2000; n++ {
		plan := PlanFor(n, 64, p)
		required := plan.NList * p.MinPointsPerCentroid
		if n < required && plan.Kind != KindExact {
			t.Fatalf("n=%d below %d got %s", n, required, plan.Kind)
		}
	}
}

func TestPlanFor_bitsNeverExceedN(t *testing.T) {
	p := DefaultBuildParams()
	for _, n := range []int{1521, 1600, 2048, 5000, 10000, 65536, 200000} {
		plan := PlanFor(n, 384, p)
		if plan.Kind != KindQuantized {
			t.Fatalf("n=%d: expected quantized, got %s (%s)", n, plan.Kind, plan.Reason)
		}
		if 1<<plan.Bits > n {
			t.Errorf("n=%d: 2^%d exceeds n", n, plan.Bits)
		}
		if plan.Bits < p.MinBits || plan.Bits > p.MaxBits {
			t.Errorf("n=%d: bits %d outside [%d,%d]", n, plan.Bits, p.MinBits, p.MaxBits)
		}
		if 384%plan.M != 0 {
			t.Errorf("n=%d: m=%d does not divide 384", n, plan.M)
		}
		if plan.NList > p.NListMax {
			t.Errorf("n=%d: nlist %d above max", n, plan.NList)
		}
	}
}

func TestPlanFor_infeasibleBitsFallsBack(t *testing.T) {
	p := BuildParams{NList: 1, MinPointsPerCentroid: 1, MinBits: 8, MaxBits: 8}
	plan := PlanFor(100, 16, p)
	if plan.Kind != KindExact {
		t.Fatalf("expected exact, got %s", plan.Kind)
	}
}

func TestPlanFor_subQuantizerDivisor(t *testing.T) {
	p := DefaultBuildParams()
	tests := []struct {
		dim, want int
	}{
		{384, 24},
		{768, 48},
		{8, 1},
		{100, 5},
		{2048, 64},
	}
	for _, tt := range tests {
		plan := PlanFor(4000, tt.dim, p)
		if plan.M != tt.want {
			t.Errorf("dim %d: m=%d, want %d", tt.dim, plan.M, tt.want)
		}
	}
}

func TestBuild_smallCorpusExact(t *testing.T) {
	b := NewBuilder(DefaultBuildParams())
	idx, err := b.Build(context.Background(), 4, clustered(10, 4, 2, 1))
	if err != nil {
		t.Fatal(err)
	}
	if idx.Kind() != KindExact {
		t.Errorf("Kind=%s, want exact", idx.Kind())
	}
	if idx.Len() != 10 {
		t.Errorf("Len=%d", idx.Len())
	}
}

func TestBuild_quantizedSearch(t *testing.T) {
	params := BuildParams{NList: 4, DimsPerSubQuantizer: 4}
	vecs := clustered(200, 8, 4, 7)
	idx, err := NewBuilder(params).Build(context.Background(), 8, vecs)
	if err != nil {
		t.Fatal(err)
	}
	q, ok := idx.(*QuantizedIndex)
	if !ok {
		t.Fatalf("expected quantized index, got %s", idx.Kind())
	}
	if q.Bits() != 6 || q.SubQuantizers() != 2 || q.NList() != 4 {
		t.Errorf("bits=%d m=%d nlist=%d", q.Bits(), q.SubQuantizers(), q.NList())
	}

	hits, err := idx.Search(context.Background(), vecs[3], 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 5 {
		t.Fatalf("expected 5 hits, got %d", len(hits))
	}
	for i, h := range hits {
		if h.Index%4 != 3 {
			t.Errorf("hit %d index %d is from another cluster", i, h.Index)
		}
		if i > 0 && hits[i-1].Distance > h.Distance {
			t.Errorf("hits not ascending at %d", i)
		}
	}
}

func TestBuild_deterministic(t *testing.T) {
	params := BuildParams{NList: 4, DimsPerSubQuantizer: 4}
	vecs := clustered(200, 8, 4, 9)
	a, err := NewBuilder(params).Build(context.Background(), 8, vecs)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBuilder(params).Build(context.Background(), 8, vecs)
	if err != nil {
		t.Fatal(err)
	}
	ha, _ := a.Search(context.Background(), vecs[10], 20)
	hb, _ := b.Search(context.Background(), vecs[10], 20)
	if len(ha) != len(hb) {
		t.Fatalf("len %d vs %d", len(ha), len(hb))
	}
	for i := range ha {
		if ha[i] != hb[i] {
			t.Fatalf("hit %d differs: %+v vs %+v", i, ha[i], hb[i])
		}
	}
}

func TestBuild_malformedInput(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	tests := []struct {
		name string
		dim  int
		vecs [][]float32
	}{
		{"dimension mismatch", 3, [][]float32{{1, 2, 3}, {1, 2}}},
		{"empty vector", 3, [][]float32{{}}},
		{"nan", 2, [][]float32{{0, nan}}},
		{"inf", 2, [][]float32{{inf, 0}}},
		{"zero dim", 0, nil},
	}
	b := NewBuilder(DefaultBuildParams())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), tt.dim, tt.vecs)
			if !errors.Is(err, errs.ErrInvalidInput) {
				t.Errorf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestBuild_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	params := BuildParams{NList: 4, DimsPerSubQuantizer: 4}
	if _, err := NewBuilder(params).Build(ctx, 8, clustered(200, 8, 4, 3)); err == nil {
		t.Error("expected error from canceled context")
	}
}
