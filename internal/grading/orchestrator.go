package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/metrics"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/oracle"
	"github.com/hyperjump/saiten/internal/retrieval"
)

// Retriever fetches course context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Options holds the retrieval constants used for grading, the worker pool bounds and the
// oracle sampling parameters. A nil DistanceThreshold takes the default; 0 accepts only
// exact matches.
type Options struct {
	K                  int
	DistanceThreshold  *float64
	MaxTotalLength     int
	DefaultConcurrency int
	MaxConcurrency     int
	Oracle             oracle.Options
}

// DefaultOptions returns k 10, threshold 0.5, budget 6000, 4 workers (at most 16).
func DefaultOptions() Options {
	threshold := 0.5
	return Options{
		K:                  10,
		DistanceThreshold:  &threshold,
		MaxTotalLength:     6000,
		DefaultConcurrency: 4,
		MaxConcurrency:     16,
		Oracle: oracle.Options{
			Temperature: oracle.DefaultTemperature,
			TopP:        oracle.DefaultTopP,
			MaxTokens:   oracle.DefaultMaxTokens,
		},
	}
}

// Orchestrator grades essay batches with a bounded worker pool.
type Orchestrator struct {
	retriever Retriever
	oracle    oracle.Oracle
	opts      Options
	tracker   *Tracker
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records essay and criterion outcomes and oracle latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracker publishes live progress of every job.
func WithTracker(t *Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// NewOrchestrator creates an orchestrator. Zero-valued options take DefaultOptions.
func NewOrchestrator(retriever Retriever, scorer oracle.Oracle, opts Options, options ...Option) *Orchestrator {
	def := DefaultOptions()
	if opts.K <= 0 {
		opts.K = def.K
	}
	if opts.DistanceThreshold == nil || *opts.DistanceThreshold < 0 {
		opts.DistanceThreshold = def.DistanceThreshold
	}
	if opts.MaxTotalLength <= 0 {
		opts.MaxTotalLength = def.MaxTotalLength
	}
	if opts.DefaultConcurrency <= 0 {
		opts.DefaultConcurrency = def.DefaultConcurrency
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = def.MaxConcurrency
	}
	o := &Orchestrator{retriever: retriever, oracle: scorer, opts: opts}
	for _, opt := range options {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Tracker returns the tracker set with WithTracker, or nil.
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// GradeBatch grades every essay of job and returns once all of them have finished. Outcomes
// are in completion order; use Index (or BatchResult.Aligned) to correlate with job.Essays.
// Per-essay failures never fail the batch. An empty job.ID is filled in.
func (o *Orchestrator) GradeBatch(ctx context.Context, job *Job) (*BatchResult, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = NewJobID()
	}
	progress := NewProgress(len(job.Essays))
	if o.tracker != nil {
		o.tracker.start(job.ID, progress)
	}
	res := o.run(ctx, job, progress)
	if o.tracker != nil {
		o.tracker.finish(job.ID, res, nil)
	}
	return res, nil
}

// Submit validates job, registers it with the tracker and grades it in the background.
// The returned ID can be polled with Tracker.Status.
func (o *Orchestrator) Submit(ctx context.Context, job *Job) (string, error) {
	if o.tracker == nil {
		return "", errors.New("grading: Submit requires a tracker")
	}
	if err := job.Validate(); err != nil {
		return "", err
	}
	if job.ID == "" {
		job.ID = NewJobID()
	}
	progress := NewProgress(len(job.Essays))
	o.tracker.start(job.ID, progress)
	bg := context.WithoutCancel(ctx)
	go func() {
		res := o.run(bg, job, progress)
		o.tracker.finish(job.ID, res, nil)
	}()
	return job.ID, nil
}

func (o *Orchestrator) workers(job *Job) int {
	n := job.ConcurrencyLimit
	if n <= 0 {
		n = o.opts.DefaultConcurrency
	}
	n = min(n, o.opts.MaxConcurrency, len(job.Essays))
	return max(n, 1)
}

func (o *Orchestrator) run(ctx context.Context, job *Job, progress *Progress) *BatchResult {
	// Dispatched essays run to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	criteria := job.Criteria()
	workers := o.workers(job)
	log := o.logger.With(zap.String("job_id", job.ID))
	log.Info("grading batch started",
		zap.String("owner", job.Key.Owner), zap.String("course", job.Key.Course), zap.String("assignment", job.Key.Assignment),
		zap.Int("essays", len(job.Essays)), zap.Int("criteria", len(criteria)), zap.Int("workers", workers))
	start := time.Now()

	indexes := make(chan int)
	outcomes := make(chan EssayOutcome, len(job.Essays))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				out := o.gradeEssay(ctx, job, criteria, i, log)
				progress.Finish(out.Failed)
				o.metrics.EssayFinished(out.Failed)
				outcomes <- out
			}
		}()
	}
	for i := range job.Essays {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
	close(outcomes)

	res := &BatchResult{JobID: job.ID, TotalEssays: len(job.Essays), Outcomes: make([]EssayOutcome, 0, len(job.Essays))}
	for out := range outcomes {
		res.Outcomes = append(res.Outcomes, out)
		res.TotalScore += out.Total
	}
	snap := progress.Snapshot()
	res.Completed, res.Failed = snap.Completed, snap.Failed
	log.Info("grading batch finished",
		zap.Int("completed", res.Completed), zap.Int("failed", res.Failed),
		zap.Float64("total_score", res.TotalScore), zap.Duration("elapsed", time.Since(start)))
	return res
}

// gradeEssay runs the retrieval and per-criterion scoring for one essay. Any panic or
// unrecoverable error turns every criterion into an "Error: <cause>" result.
func (o *Orchestrator) gradeEssay(ctx context.Context, job *Job, criteria []string, index int, log *zap.Logger) (out EssayOutcome) {
	log = log.With(zap.Int("essay_index", index))
	defer func() {
		if r := recover(); r != nil {
			log.Error("essay grading panicked", zap.Any("panic", r))
			out = o.failedOutcome(index, criteria, fmt.Errorf("%v", r))
		}
	}()

	essay := job.Essays[index]
	contextText := o.retrieveContext(ctx, job, log)
	results := make(models.EssayResult, len(criteria))
	for _, name := range criteria {
		template := job.CriteriaPrompts[name]
		if strings.TrimSpace(template) == "" {
			err := fmt.Errorf("empty prompt template for criterion %q", name)
			log.Warn("essay grading failed", zap.Error(err))
			return o.failedOutcome(index, criteria, err)
		}
		prompt := RenderPrompt(template, job.Question, essay, contextText)
		results[name] = o.scoreCriterion(ctx, prompt, log.With(zap.String("criterion", name)))
	}
	return EssayOutcome{Index: index, Results: results, Total: results.Total()}
}

func (o *Orchestrator) retrieveContext(ctx context.Context, job *Job, log *zap.Logger) string {
	threshold, budget := *o.opts.DistanceThreshold, o.opts.MaxTotalLength
	res, err := o.retriever.Retrieve(ctx, retrieval.Request{
		Query:             job.Question,
		Key:               job.Key,
		K:                 o.opts.K,
		DistanceThreshold: &threshold,
		MaxTotalLength:    &budget,
	})
	if err != nil {
		log.Warn("retrieval failed, grading without context", zap.Error(err))
		return NoContext
	}
	if len(res.Passages) == 0 {
		return NoContext
	}
	return res.Context()
}

func (o *Orchestrator) scoreCriterion(ctx context.Context, prompt string, log *zap.Logger) models.CriterionResult {
	start := time.Now()
	raw, err := o.oracle.Score(ctx, o.opts.Oracle.Request(prompt))
	o.metrics.ObserveOracle(time.Since(start), err)
	if err != nil {
		log.Warn("oracle call failed", zap.Error(err))
		o.metrics.CriterionScored("oracle_error")
		return models.CriterionResult{Score: 0, Feedback: msgNoResponse + ": " + err.Error()}
	}
	res, err := ParseResponse(raw)
	if err != nil {
		log.Warn("oracle response not parseable", zap.Error(err))
		o.metrics.CriterionScored("parse_error")
		return models.CriterionResult{Score: 0, Feedback: msgParseFailed}
	}
	o.metrics.CriterionScored("ok")
	return res
}

func (o *Orchestrator) failedOutcome(index int, criteria []string, cause error) EssayOutcome {
	results := make(models.EssayResult, len(criteria))
	for _, name := range criteria {
		results[name] = models.CriterionResult{Score: 0, Feedback: "Error: " + cause.Error()}
		o.metrics.CriterionScored("error")
	}
	return EssayOutcome{Index: index, Results: results, Total: 0, Failed: true}
}
