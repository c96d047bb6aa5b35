package grading

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/saiten/internal/errs"
)

// Job states reported by the tracker.
const (
	StateRunning  = "running"
	StateDone     = "done"
	StateRejected = "rejected"
)

const defaultRetainFinished = 100

// JobStatus is what the tracker knows about one job.
type JobStatus struct {
	ID         string           `json:"id"`
	State      string           `json:"state"`
	Progress   ProgressSnapshot `json:"progress"`
	Result     *BatchResult     `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

type trackedJob struct {
	progress *Progress
	status   JobStatus
}

// Tracker keeps live progress of running jobs and the results of recently finished ones.
type Tracker struct {
	mu     sync.RWMutex
	jobs   map[string]*trackedJob
	retain int
	now    func() time.Time
}

// NewTracker creates a tracker that keeps up to retain finished jobs (<= 0 uses 100).
func NewTracker(retain int) *Tracker {
	if retain <= 0 {
		retain = defaultRetainFinished
	}
	return &Tracker{jobs: make(map[string]*trackedJob), retain: retain, now: time.Now}
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.New().String()
}

func (t *Tracker) start(id string, p *Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &trackedJob{
		progress: p,
		status:   JobStatus{ID: id, State: StateRunning, StartedAt: t.now()},
	}
}

func (t *Tracker) finish(id string, res *BatchResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return
	}
	now := t.now()
	j.status.FinishedAt = &now
	j.status.Result = res
	if err != nil {
		j.status.State = StateRejected
		j.status.Error = err.Error()
	} else {
		j.status.State = StateDone
	}
	t.prune()
}

// prune drops the oldest finished jobs beyond the retention limit. Caller holds mu.
func (t *Tracker) prune() {
	var finished []*trackedJob
	for _, j := range t.jobs {
		if j.status.FinishedAt != nil {
			finished = append(finished, j)
		}
	}
	if len(finished) <= t.retain {
		return
	}
	sort.Slice(finished, func(a, b int) bool {
		return finished[a].status.FinishedAt.Before(*finished[b].status.FinishedAt)
	})
	for _, j := range finished[:len(finished)-t.retain] {
		delete(t.jobs, j.status.ID)
	}
}

// Status returns a snapshot of the job, or an errs.ErrNotFound error.
func (t *Tracker) Status(id string) (JobStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return JobStatus{}, errs.NotFound("no grading job %s", id)
	}
	st := j.status
	if j.progress != nil {
		st.Progress = j.progress.Snapshot()
	}
	return st, nil
}

// Running returns the IDs of jobs still in progress, sorted.
func (t *Tracker) Running() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, j := range t.jobs {
		if j.status.State == StateRunning {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
