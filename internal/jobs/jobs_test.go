package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
	"github.com/Microck/chatgpt-webui-mcp/internal/config"
)

// fakeExec is a scripted executor. A non-nil gate blocks Run until closed.
type fakeExec struct {
	gate   chan struct{}
	result *chatgpt.Result
	err    error
}

func (f *fakeExec) Run(ctx context.Context, req *chatgpt.Request) (*chatgpt.Result, *chatgpt.Report, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	res := f.result
	if res == nil {
		res = &chatgpt.Result{Text: "ok"}
	}
	return res, &chatgpt.Report{}, nil
}

func newScheduler(t *testing.T, exec Executor, mutate func(*config.Config)) *Scheduler {
	t.Helper()
	t.Setenv("CHATGPT_MCP_HOME", t.TempDir())
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewScheduler(exec, cfg)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func waitTerminal(t *testing.T, s *Scheduler, id string) Job {
	t.Helper()
	job, err := s.AwaitUntil(context.Background(), id, 5*time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitUntil(%s): %v", id, err)
	}
	if !job.State.Terminal() {
		t.Fatalf("job %s not terminal: %s", id, job.State)
	}
	return job
}

func TestSubmitDistinctIDs(t *testing.T) {
	s := newScheduler(t, &fakeExec{}, nil)

	const n = 32
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Submit(&chatgpt.Request{Prompt: "hi"})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate job id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d ids, want %d", len(seen), n)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	s := newScheduler(t, &fakeExec{}, nil)

	if _, err := s.Submit(&chatgpt.Request{}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(s.List()) != 0 {
		t.Errorf("invalid request stored")
	}
}

func TestStatusUnknownID(t *testing.T) {
	s := newScheduler(t, &fakeExec{}, nil)

	if _, err := s.Status("no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	gate := make(chan struct{})
	s := newScheduler(t, &fakeExec{gate: gate, result: &chatgpt.Result{Text: "answer"}}, nil)

	id, err := s.Submit(&chatgpt.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Sampling while the worker is blocked must not mutate anything.
	job, err := s.AwaitUntil(context.Background(), id, 20*time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitUntil: %v", err)
	}
	if job.State.Terminal() {
		t.Fatalf("job terminal before worker released: %s", job.State)
	}

	close(gate)
	job = waitTerminal(t, s, id)
	if job.State != StateSucceeded {
		t.Fatalf("state = %s", job.State)
	}
	if job.Result == nil || job.Result.Text != "answer" {
		t.Errorf("result = %+v", job.Result)
	}
	if job.FinishedAt.IsZero() || job.StartedAt.IsZero() {
		t.Errorf("timestamps missing: %+v", job)
	}
}

func TestJobFailureCarriesKind(t *testing.T) {
	execErr := &chatgpt.Error{Kind: chatgpt.KindLoginRequired, Op: "prepare", Message: "login wall"}
	s := newScheduler(t, &fakeExec{err: execErr}, nil)

	id, err := s.Submit(&chatgpt.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job := waitTerminal(t, s, id)
	if job.State != StateFailed {
		t.Fatalf("state = %s", job.State)
	}
	if job.ErrorKind != chatgpt.KindLoginRequired {
		t.Errorf("kind = %s", job.ErrorKind)
	}
	if job.Error == "" {
		t.Errorf("error message missing")
	}
}

func TestTTLEviction(t *testing.T) {
	s := newScheduler(t, &fakeExec{}, func(cfg *config.Config) {
		cfg.Jobs.TTL = "30m"
	})

	id, err := s.Submit(&chatgpt.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, s, id)

	// Jump the clock past the TTL and sweep.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	s.Sweep()

	if _, err := s.Status(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after TTL", err)
	}
}

func TestCapEvictionKeepsNewestTerminal(t *testing.T) {
	const jobCap = 3
	const extra = 2
	s := newScheduler(t, &fakeExec{}, func(cfg *config.Config) {
		cfg.Jobs.Cap = jobCap
		cfg.Jobs.TTL = "24h"
	})

	var ids []string
	for i := 0; i < jobCap+extra; i++ {
		id, err := s.Submit(&chatgpt.Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		waitTerminal(t, s, id)
		ids = append(ids, id)
	}
	s.Sweep()

	var live int
	for _, id := range ids {
		if _, err := s.Status(id); err == nil {
			live++
		}
	}
	if live != jobCap {
		t.Fatalf("live jobs = %d, want %d", live, jobCap)
	}

	// The retained jobs are the most recently created ones.
	for _, id := range ids[extra:] {
		if _, err := s.Status(id); err != nil {
			t.Errorf("recent job %s evicted: %v", id, err)
		}
	}
	for _, id := range ids[:extra] {
		if _, err := s.Status(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("old job %s still resolvable", id)
		}
	}
}

func TestRunningJobsNeverEvicted(t *testing.T) {
	gate := make(chan struct{})
	s := newScheduler(t, &fakeExec{gate: gate}, func(cfg *config.Config) {
		cfg.Jobs.Cap = 1
	})

	first, _ := s.Submit(&chatgpt.Request{Prompt: "one"})
	second, _ := s.Submit(&chatgpt.Request{Prompt: "two"})
	s.Sweep()

	// Both are running; the cap cannot evict either.
	for _, id := range []string{first, second} {
		if _, err := s.Status(id); err != nil {
			t.Errorf("running job %s evicted: %v", id, err)
		}
	}
	close(gate)
}

func TestBackgroundRouting(t *testing.T) {
	tests := []struct {
		name string
		req  chatgpt.Request
		want bool
	}{
		{"plain prompt", chatgpt.Request{Prompt: "hi"}, false},
		{"research", chatgpt.Request{Prompt: "hi", DeepResearch: true}, true},
		{"image", chatgpt.Request{Prompt: "hi", CreateImage: true}, true},
		{"pro mode", chatgpt.Request{Prompt: "hi", ModelMode: chatgpt.ModePro}, true},
		{"thinking mode", chatgpt.Request{Prompt: "hi", ModelMode: chatgpt.ModeThinking}, true},
		{"instant mode", chatgpt.Request{Prompt: "hi", ModelMode: chatgpt.ModeInstant}, false},
		{"slow model id", chatgpt.Request{Prompt: "hi", ModelOverride: "gpt-5.1-thinking"}, true},
		{"pro model id", chatgpt.Request{Prompt: "hi", ModelOverride: "gpt-5-pro"}, true},
		{"fast model id", chatgpt.Request{Prompt: "hi", ModelOverride: "gpt-4o"}, false},
		{"long wait", chatgpt.Request{Prompt: "hi", WaitTimeoutMs: 6 * 60 * 1000}, true},
		{"short wait", chatgpt.Request{Prompt: "hi", WaitTimeoutMs: 60 * 1000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Background(&tt.req); got != tt.want {
				t.Errorf("Background = %t, want %t", got, tt.want)
			}
		})
	}
}
