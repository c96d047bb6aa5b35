package vector

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/errs"
)

// BuildParams controls when and how a quantized index is built.
type BuildParams struct {
	NList                int // 0 = floor(sqrt(n)) clamped to [1, NListMax]
	NListMax             int
	MinPointsPerCentroid int
	MaxBits              int
	MinBits              int
	DimsPerSubQuantizer  int
	MinSubQuantizers     int
	MaxSubQuantizers     int
	TrainIterations      int
	NVisit               int
	Seed                 uint64
}

// DefaultBuildParams returns the parameters used when none are configured.
func DefaultBuildParams() BuildParams {
	return BuildParams{
		NListMax:             256,
		MinPointsPerCentroid: 39,
		MaxBits:              8,
		MinBits:              4,
		DimsPerSubQuantizer:  16,
		MinSubQuantizers:     1,
		MaxSubQuantizers:     64,
		TrainIterations:      20,
		NVisit:               8,
		Seed:                 1,
	}
}

func (p BuildParams) withDefaults() BuildParams {
	d := DefaultBuildParams()
	if p.NListMax <= 0 {
		p.NListMax = d.NListMax
	}
	if p.MinPointsPerCentroid <= 0 {
		p.MinPointsPerCentroid = d.MinPointsPerCentroid
	}
	if p.MaxBits <= 0 || p.MaxBits > 8 {
		p.MaxBits = d.MaxBits
	}
	if p.MinBits <= 0 || p.MinBits > p.MaxBits {
		p.MinBits = min(d.MinBits, p.MaxBits)
	}
	if p.DimsPerSubQuantizer <= 0 {
		p.DimsPerSubQuantizer = d.DimsPerSubQuantizer
	}
	if p.MinSubQuantizers <= 0 {
		p.MinSubQuantizers = d.MinSubQuantizers
	}
	if p.MaxSubQuantizers < p.MinSubQuantizers {
		p.MaxSubQuantizers = max(d.MaxSubQuantizers, p.MinSubQuantizers)
	}
	if p.TrainIterations <= 0 {
		p.TrainIterations = d.TrainIterations
	}
	if p.NVisit <= 0 {
		p.NVisit = d.NVisit
	}
	return p
}

// Plan is the index variant and parameters chosen for a corpus.
type Plan struct {
	Kind   Kind
	NList  int
	Bits   int
	M      int
	Reason string
}

// PlanFor decides between an exact and a quantized index for n vectors of dimension dim.
// A quantized plan always has n >= NList*MinPointsPerCentroid and 2^Bits <= n.
func PlanFor(n, dim int, params BuildParams) Plan {
	p := params.withDefaults()

	nlist := p.NList
	if nlist <= 0 {
		nlist = int(math.Floor(math.Sqrt(float64(n))))
		nlist = max(1, min(nlist, p.NListMax))
	}
	required := nlist * p.MinPointsPerCentroid
	if n < required {
		return Plan{
			Kind:   KindExact,
			NList:  nlist,
			Reason: fmt.Sprintf("%d vectors below training minimum %d", n, required),
		}
	}

	bits := int(math.Floor(math.Log2(float64(n)))) - 1
	bits = min(p.MaxBits, max(p.MinBits, bits))
	for bits > 0 && 1<<bits > n {
		bits--
	}
	if bits < p.MinBits {
		return Plan{
			Kind:   KindExact,
			NList:  nlist,
			Bits:   bits,
			Reason: fmt.Sprintf("no feasible code width for %d vectors", n),
		}
	}

	m := dim / p.DimsPerSubQuantizer
	m = max(p.MinSubQuantizers, min(m, p.MaxSubQuantizers))
	m = min(m, dim)
	for m > 1 && dim%m != 0 {
		m--
	}
	m = max(m, 1)

	return Plan{
		Kind:   KindQuantized,
		NList:  nlist,
		Bits:   bits,
		M:      m,
		Reason: fmt.Sprintf("%d vectors, nlist %d, %d-bit codes, m %d", n, nlist, bits, m),
	}
}

// Builder turns an ordered vector batch into an Index.
type Builder struct {
	params BuildParams
	logger *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger sets the logger.
func WithBuilderLogger(logger *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

// NewBuilder creates a Builder with the given parameters; zero fields take defaults.
func NewBuilder(params BuildParams, opts ...BuilderOption) *Builder {
	b := &Builder{params: params.withDefaults()}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Params returns the effective parameters.
func (b *Builder) Params() BuildParams { return b.params }

// Build validates vectors and builds the index chosen by PlanFor. Vector i keeps index i.
func (b *Builder) Build(ctx context.Context, dim int, vectors [][]float32) (Index, error) {
	if dim <= 0 {
		return nil, errs.InvalidInput("dimensions must be positive, got %d", dim)
	}
	for i, v := range vectors {
		if err := checkVector(v, dim); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}

	plan := PlanFor(len(vectors), dim, b.params)
	b.logger.Debug("index plan",
		zap.String("kind", string(plan.Kind)),
		zap.Int("vectors", len(vectors)),
		zap.Int("nlist", plan.NList),
		zap.Int("bits", plan.Bits),
		zap.Int("m", plan.M),
		zap.String("reason", plan.Reason))

	if plan.Kind == KindExact {
		return NewExactIndex(dim, vectors)
	}
	idx, err := b.train(ctx, dim, vectors, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to train quantized index: %w", err)
	}
	return idx, nil
}

func (b *Builder) train(ctx context.Context, dim int, vectors [][]float32, plan Plan) (*QuantizedIndex, error) {
	n := len(vectors)
	data := make([]float32, 0, n*dim)
	for _, v := range vectors {
		data = append(data, v...)
	}
	rng := rand.New(rand.NewPCG(b.params.Seed, b.params.Seed^0x9e3779b97f4a7c15))

	q := &QuantizedIndex{
		dim:    dim,
		n:      n,
		nlist:  plan.NList,
		m:      plan.M,
		bits:   plan.Bits,
		nvisit: b.params.NVisit,
	}
	q.coarse = kmeans(ctx, data, n, dim, q.nlist, b.params.TrainIterations, rng)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	assign := make([]int, n)
	residuals := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		row := data[i*dim : (i+1)*dim]
		c, _ := nearest(row, q.coarse, q.nlist, dim)
		assign[i] = c
		centroid := q.coarse[c*dim : (c+1)*dim]
		for j := 0; j < dim; j++ {
			residuals[i*dim+j] = row[j] - centroid[j]
		}
	}

	ksub, dsub := q.ksub(), q.dsub()
	q.codebooks = make([]float32, q.m*ksub*dsub)
	sub := make([]float32, n*dsub)
	for s := 0; s < q.m; s++ {
		for i := 0; i < n; i++ {
			copy(sub[i*dsub:(i+1)*dsub], residuals[i*dim+s*dsub:i*dim+(s+1)*dsub])
		}
		book := kmeans(ctx, sub, n, dsub, ksub, b.params.TrainIterations, rng)
		copy(q.codebooks[s*ksub*dsub:], book)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	q.lists = make([][]int32, q.nlist)
	q.codes = make([][]byte, q.nlist)
	for i := 0; i < n; i++ {
		c := assign[i]
		q.lists[c] = append(q.lists[c], int32(i))
		q.codes[c] = q.encode(q.codes[c], residuals[i*dim:(i+1)*dim])
	}
	return q, nil
}
