package chatgpt

import (
	"context"
	"log"
	"time"

	"github.com/Microck/chatgpt-webui-mcp/internal/config"
)

const (
	runAttempts  = 3
	retryBackoff = 2 * time.Second
)

// Runner executes complete requests end to end. It owns retries on
// transient backend failures and guarantees tab cleanup on every exit path.
type Runner struct {
	surface   Surface
	api       ConversationAPI
	cfg       *config.Config
	collector *Collector
}

// NewRunner wires a runner over the automation surface and, optionally,
// the backend API used for image recovery. api may be nil when no session
// token is configured.
func NewRunner(surface Surface, api ConversationAPI, cfg *config.Config) *Runner {
	return &Runner{
		surface:   surface,
		api:       api,
		cfg:       cfg,
		collector: NewCollector(surface, api, cfg),
	}
}

// Run validates the request and executes it, retrying from scratch on
// transient backend crashes. Non-transient failures and deadline expiry
// return immediately.
func (r *Runner) Run(ctx context.Context, req *Request) (*Result, *Report, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	wait := r.waitBudget(req)

	var lastErr error
	for attempt := 1; attempt <= runAttempts; attempt++ {
		result, report, err := r.runOnce(ctx, req, wait)
		if err == nil {
			return result, report, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			return nil, report, err
		}

		log.Printf("[runner] attempt %d/%d failed with transient error, restarting backend: %v", attempt, runAttempts, err)
		if rerr := r.surface.Restart(ctx); rerr != nil {
			log.Printf("[runner] backend restart failed: %v", rerr)
		}
		select {
		case <-ctx.Done():
			return nil, report, wrapOp("run", ctx.Err())
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return nil, nil, lastErr
}

// waitBudget resolves the effective polling deadline, clamped to the
// configured maximum.
func (r *Runner) waitBudget(req *Request) time.Duration {
	wait := r.cfg.DefaultWait()
	if req.WaitTimeoutMs > 0 {
		wait = time.Duration(req.WaitTimeoutMs) * time.Millisecond
	}
	if max := r.cfg.MaxWait(); wait > max {
		wait = max
	}
	return wait
}

// runOnce executes a single attempt: open a tab, prepare the page, submit
// the prompt, poll to settle and collect artifacts. The tab is closed on
// every exit path.
func (r *Runner) runOnce(ctx context.Context, req *Request, wait time.Duration) (*Result, *Report, error) {
	driver := NewDriver(r.surface, r.cfg)

	tabID, err := driver.OpenSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		// Cleanup must survive a canceled request context.
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if derr := r.surface.DeleteTab(closeCtx, tabID); derr != nil {
			log.Printf("[runner] tab %s cleanup failed: %v", tabID, derr)
		}
	}()

	report, err := driver.Prepare(ctx, tabID, req)
	if err != nil {
		return nil, report, err
	}
	if err := driver.Submit(ctx, tabID, req, report); err != nil {
		return nil, report, err
	}

	poller := NewPoller(r.surface, r.cfg)
	outcome, err := poller.Poll(ctx, tabID, req, wait)
	if err != nil {
		return nil, report, err
	}

	result := &Result{
		Text:           outcome.Text,
		ConversationID: outcome.ConversationID,
		Model:          requestedModel(req),
	}

	if req.CreateImage {
		artifacts := r.collector.Collect(ctx, tabID, outcome.ConversationID)
		result.Images = artifacts
		for _, a := range artifacts {
			if a.SourceURL != "" {
				result.ImageURLs = append(result.ImageURLs, a.SourceURL)
			}
		}
		result.ImageDataURL = dataURL(artifacts)
	}

	return result, report, nil
}
