// Package retrieval resolves a question against the latest corpus of a course assignment and
// packs the nearest passages into a bounded context.
package retrieval

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/metrics"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/vector"
)

// Loader resolves the current corpus for a key.
type Loader interface {
	Load(ctx context.Context, key corpus.Key) (*corpus.Corpus, error)
}

// QueryEmbedder embeds a query and checks it against the corpus dimension.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string, want int) ([]float32, error)
}

// Options holds the engine defaults. A nil DistanceThreshold takes the default; 0 accepts
// only exact matches.
type Options struct {
	DefaultK          int
	DistanceThreshold *float64
	MaxTotalLength    int
	MinContextBytes   int
	// Expansions overrides DefaultExpansions when non-nil.
	Expansions map[string][]string
}

// DefaultOptions returns k 5, threshold 1.0, budget 6000 bytes and a 1000 byte floor.
func DefaultOptions() Options {
	threshold := 1.0
	return Options{DefaultK: 5, DistanceThreshold: &threshold, MaxTotalLength: 6000, MinContextBytes: 1000}
}

// Request is one retrieval. Nil pointers take the engine defaults.
type Request struct {
	Query             string     `json:"query"`
	Key               corpus.Key `json:"key"`
	K                 int        `json:"k"`
	DistanceThreshold *float64   `json:"distance_threshold,omitempty"`
	MaxTotalLength    *int       `json:"max_total_length,omitempty"`
}

// ScoredPassage is an accepted passage with its squared L2 distance to the query.
type ScoredPassage struct {
	models.Passage
	Distance float32 `json:"distance"`
}

// Result lists accepted passages in acceptance order.
type Result struct {
	Passages   []ScoredPassage `json:"passages"`
	TotalBytes int             `json:"total_bytes"`
	Escalated  bool            `json:"escalated"`
}

// Texts returns the accepted passage texts.
func (r *Result) Texts() []string {
	out := make([]string, len(r.Passages))
	for i, p := range r.Passages {
		out[i] = p.Text
	}
	return out
}

// Context joins the accepted passages with newlines.
func (r *Result) Context() string {
	return strings.Join(r.Texts(), "\n")
}

// Engine runs retrievals. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	loader   Loader
	embedder QueryEmbedder
	expander *Expander
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records retrieval counts and latency.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a retrieval engine. Zero-valued options (a nil or negative threshold)
// fall back to DefaultOptions.
func NewEngine(loader Loader, embedder QueryEmbedder, opts Options, engineOpts ...EngineOption) *Engine {
	def := DefaultOptions()
	if opts.DefaultK <= 0 {
		opts.DefaultK = def.DefaultK
	}
	if opts.DistanceThreshold == nil || *opts.DistanceThreshold < 0 {
		opts.DistanceThreshold = def.DistanceThreshold
	}
	if opts.MaxTotalLength <= 0 {
		opts.MaxTotalLength = def.MaxTotalLength
	}
	if opts.MinContextBytes < 0 {
		opts.MinContextBytes = 0
	}
	e := &Engine{
		loader:   loader,
		embedder: embedder,
		expander: NewExpander(opts.Expansions),
		opts:     opts,
	}
	for _, o := range engineOpts {
		o(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Options returns the effective defaults.
func (e *Engine) Options() Options { return e.opts }

// Retrieve embeds the expanded query, searches 2k candidates and packs them under the
// distance threshold and byte budget. When the packed context is below the floor and the
// first pass did not exhaust the corpus, it searches once more with 4k.
func (e *Engine) Retrieve(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		escalated := res != nil && res.Escalated
		e.metrics.ObserveRetrieval(time.Since(start), escalated, err)
	}()

	k, threshold, budget, err := e.resolve(req)
	if err != nil {
		return nil, err
	}
	c, err := e.loader.Load(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	res = &Result{Passages: []ScoredPassage{}}
	if c.Len() == 0 || c.Index == nil || c.Index.Len() == 0 {
		return res, nil
	}

	query := e.expander.Expand(req.Query)
	vec, err := e.embedder.EmbedQuery(ctx, query, c.Dim())
	if err != nil {
		return nil, err
	}

	p := packer{passages: c.Passages, k: k, threshold: threshold, budget: budget, seen: make(map[int]bool)}
	hits, err := c.Index.Search(ctx, vec, 2*k)
	if err != nil {
		return nil, errs.Upstream(err, "search index")
	}
	p.accept(hits)

	if p.total < e.opts.MinContextBytes && len(p.out) < k && len(hits) == 2*k && 2*k < c.Index.Len() {
		more, err := c.Index.Search(ctx, vec, 4*k)
		if err != nil {
			return nil, errs.Upstream(err, "search index")
		}
		p.accept(more)
		res.Escalated = true
	}

	res.Passages = append(res.Passages, p.out...)
	res.TotalBytes = p.total
	e.logger.Debug("retrieval finished",
		zap.String("owner", req.Key.Owner), zap.String("course", req.Key.Course), zap.String("assignment", req.Key.Assignment),
		zap.Int("k", k), zap.Int("accepted", len(res.Passages)), zap.Int("total_bytes", res.TotalBytes),
		zap.Bool("escalated", res.Escalated), zap.String("kind", string(c.Index.Kind())))
	return res, nil
}

func (e *Engine) resolve(req Request) (k int, threshold float64, budget int, err error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, 0, 0, errs.InvalidInput("query is required")
	}
	if err := req.Key.Validate(); err != nil {
		return 0, 0, 0, err
	}
	k = req.K
	if k == 0 {
		k = e.opts.DefaultK
	}
	if k < 0 {
		return 0, 0, 0, errs.InvalidInput("k must be positive, got %d", req.K)
	}
	threshold = *e.opts.DistanceThreshold
	if req.DistanceThreshold != nil {
		threshold = *req.DistanceThreshold
	}
	if threshold < 0 {
		return 0, 0, 0, errs.InvalidInput("distance_threshold must not be negative")
	}
	budget = e.opts.MaxTotalLength
	if req.MaxTotalLength != nil {
		budget = *req.MaxTotalLength
	}
	if budget < 0 {
		return 0, 0, 0, errs.InvalidInput("max_total_length must not be negative")
	}
	return k, threshold, budget, nil
}

// packer accumulates passages across both passes under one budget.
type packer struct {
	passages  []models.Passage
	k         int
	threshold float64
	budget    int

	seen  map[int]bool
	out   []ScoredPassage
	total int
}

func (p *packer) accept(hits []vector.Hit) {
	for _, h := range hits {
		if len(p.out) >= p.k {
			return
		}
		if h.Index < 0 || h.Index >= len(p.passages) {
			continue
		}
		if p.seen[h.Index] {
			continue
		}
		if float64(h.Distance) > p.threshold {
			return
		}
		text := p.passages[h.Index].Text
		if p.total+len(text) > p.budget {
			return
		}
		p.seen[h.Index] = true
		p.out = append(p.out, ScoredPassage{Passage: p.passages[h.Index], Distance: h.Distance})
		p.total += len(text)
	}
}
