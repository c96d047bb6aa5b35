// Package grading scores batches of essays against rubric criteria using retrieved course
// context and a scoring oracle.
package grading

import (
	"sort"
	"strings"

	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/models"
)

// Job is one grading batch. CriteriaPrompts maps criterion name to its prompt template.
type Job struct {
	ID               string            `json:"id"`
	Key              corpus.Key        `json:"key"`
	Essays           []string          `json:"essays"`
	Question         string            `json:"question"`
	CriteriaPrompts  map[string]string `json:"criteria_prompts"`
	ConcurrencyLimit int               `json:"concurrency_limit,omitempty"`
}

// Validate checks the request shape. Empty templates are not rejected here; they fail the
// essays that would use them.
func (j *Job) Validate() error {
	if j == nil {
		return errs.InvalidInput("job is required")
	}
	if err := j.Key.Validate(); err != nil {
		return err
	}
	if len(j.Essays) == 0 {
		return errs.InvalidInput("essays are required")
	}
	if strings.TrimSpace(j.Question) == "" {
		return errs.InvalidInput("question is required")
	}
	if len(j.CriteriaPrompts) == 0 {
		return errs.InvalidInput("criteria_prompts are required")
	}
	if j.ConcurrencyLimit < 0 {
		return errs.InvalidInput("concurrency_limit must not be negative")
	}
	return nil
}

// Criteria returns the criterion names in sorted order.
func (j *Job) Criteria() []string {
	names := make([]string, 0, len(j.CriteriaPrompts))
	for name := range j.CriteriaPrompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EssayOutcome is the graded result of one essay. Index is the essay's position in Job.Essays.
type EssayOutcome struct {
	Index   int                `json:"index"`
	Results models.EssayResult `json:"results"`
	Total   float64            `json:"total"`
	Failed  bool               `json:"failed,omitempty"`
}

// BatchResult holds the outcomes in completion order plus aggregate counts.
type BatchResult struct {
	JobID       string         `json:"job_id"`
	Outcomes    []EssayOutcome `json:"outcomes"`
	TotalEssays int            `json:"total_essays"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	TotalScore  float64        `json:"total_score"`
}

// Aligned returns the outcomes sorted by essay index.
func (b *BatchResult) Aligned() []EssayOutcome {
	out := append([]EssayOutcome(nil), b.Outcomes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
