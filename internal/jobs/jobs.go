// Package jobs tracks in-flight and completed asynchronous completion
// requests: submission, state transitions, TTL-based eviction and the
// wait/poll semantics exposed to callers.
package jobs

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
	"github.com/Microck/chatgpt-webui-mcp/internal/config"
)

// ErrNotFound is returned for unknown or evicted job ids.
var ErrNotFound = errors.New("job not found")

// State is a job's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is one tracked request. After creation only the owning worker
// mutates it; readers get copies.
type Job struct {
	ID         string           `json:"id"`
	State      State            `json:"state"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  time.Time        `json:"started_at,omitempty"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	Request    *chatgpt.Request `json:"request,omitempty"`
	Result     *chatgpt.Result  `json:"result,omitempty"`
	Report     *chatgpt.Report  `json:"report,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  chatgpt.Kind     `json:"error_kind,omitempty"`
}

// Executor runs one request end to end. *chatgpt.Runner satisfies it.
type Executor interface {
	Run(ctx context.Context, req *chatgpt.Request) (*chatgpt.Result, *chatgpt.Report, error)
}

// Scheduler owns the job table. The table itself is the only shared
// mutable state; each job has exactly one worker goroutine.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*Job

	exec Executor
	ttl  time.Duration
	cap  int

	now func() time.Time
}

// NewScheduler builds a scheduler from config.
func NewScheduler(exec Executor, cfg *config.Config) (*Scheduler, error) {
	ttl, err := cfg.JobTTL()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		jobs: make(map[string]*Job),
		exec: exec,
		ttl:  ttl,
		cap:  cfg.Jobs.Cap,
		now:  time.Now,
	}, nil
}

// Submit stores a queued job and hands it to a worker. It never blocks on
// execution.
func (s *Scheduler) Submit(req *chatgpt.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	job := &Job{
		ID:        uuid.NewString(),
		State:     StateQueued,
		CreatedAt: s.now(),
		Request:   req,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	go s.run(job)
	return job.ID, nil
}

// run is the single worker for one job. The job outlives the submitting
// caller, so execution uses a fresh root context.
func (s *Scheduler) run(job *Job) {
	s.mu.Lock()
	job.State = StateRunning
	job.StartedAt = s.now()
	s.mu.Unlock()

	log.Printf("[jobs] %s running", job.ID)
	result, report, err := s.exec.Run(context.Background(), job.Request)

	s.mu.Lock()
	job.FinishedAt = s.now()
	job.Report = report
	if err != nil {
		job.State = StateFailed
		job.Error = err.Error()
		job.ErrorKind = chatgpt.KindOf(err)
	} else {
		job.State = StateSucceeded
		job.Result = result
	}
	s.sweepLocked()
	s.mu.Unlock()

	if err != nil {
		log.Printf("[jobs] %s failed: %v", job.ID, err)
	} else {
		log.Printf("[jobs] %s succeeded", job.ID)
	}
}

// Status returns a copy of the job, or ErrNotFound for ids that are
// unknown or already evicted.
func (s *Scheduler) Status(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// AwaitUntil samples the job at the given interval until it is terminal or
// the timeout elapses, returning the latest observation. It never mutates
// the job; an unfinished job at timeout is returned as-is.
func (s *Scheduler) AwaitUntil(ctx context.Context, id string, timeout, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := s.now().Add(timeout)

	for {
		job, err := s.Status(id)
		if err != nil {
			return Job{}, err
		}
		if job.State.Terminal() || !s.now().Before(deadline) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// List returns copies of all live jobs, newest first.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// sweepLocked runs the post-completion maintenance pass: TTL eviction of
// terminal jobs, then creation-time-ordered eviction of terminal jobs
// until the table is back under cap. Running jobs are never evicted.
func (s *Scheduler) sweepLocked() {
	now := s.now()

	for id, j := range s.jobs {
		if j.State.Terminal() && s.ttl > 0 && now.Sub(j.FinishedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}

	if s.cap <= 0 || len(s.jobs) <= s.cap {
		return
	}

	var terminal []*Job
	for _, j := range s.jobs {
		if j.State.Terminal() {
			terminal = append(terminal, j)
		}
	}
	sort.Slice(terminal, func(i, k int) bool { return terminal[i].CreatedAt.Before(terminal[k].CreatedAt) })

	for _, j := range terminal {
		if len(s.jobs) <= s.cap {
			break
		}
		delete(s.jobs, j.ID)
	}
}

// Sweep runs the maintenance pass outside a completion, e.g. from a
// periodic ticker.
func (s *Scheduler) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
}
