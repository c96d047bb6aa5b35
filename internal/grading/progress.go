package grading

import "sync"

// Progress counts finished essays. All access goes through the mutex.
type Progress struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	current   int
}

// ProgressSnapshot is a consistent copy of Progress.
type ProgressSnapshot struct {
	Total        int `json:"total"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	CurrentIndex int `json:"current_index"`
}

// NewProgress creates progress for total essays.
func NewProgress(total int) *Progress {
	return &Progress{total: total}
}

// Finish records one essay as completed or failed and advances CurrentIndex.
func (p *Progress) Finish(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if failed {
		p.failed++
	} else {
		p.completed++
	}
	p.current++
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProgressSnapshot{Total: p.total, Completed: p.completed, Failed: p.failed, CurrentIndex: p.current}
}

// Done reports whether every essay has finished.
func (s ProgressSnapshot) Done() bool {
	return s.Completed+s.Failed >= s.Total
}
