package chatgpt

import (
	"context"
	"log"
	"regexp"
	"time"

	"github.com/Microck/chatgpt-webui-mcp/internal/config"
	"github.com/Microck/chatgpt-webui-mcp/internal/extract"
	"github.com/Microck/chatgpt-webui-mcp/internal/snapshot"
)

// PollState is the poller's state machine state.
type PollState string

const (
	StateGenerating        PollState = "generating"
	StateSettlingCandidate PollState = "settling_candidate"
	StateSettled           PollState = "settled"
	StateTimedOut          PollState = "timed_out"
	StateFatalError        PollState = "fatal_error"
)

// Poller repeatedly samples the page, decides whether generation is still
// in progress, stalled or settled, and returns the final answer.
type Poller struct {
	surface Surface
	cfg     *config.Config
	ex      extract.Extractor
}

// NewPoller creates a poller over the given surface.
func NewPoller(surface Surface, cfg *config.Config) *Poller {
	return &Poller{
		surface: surface,
		cfg:     cfg,
		ex:      extract.Extractor{Containment: cfg.EchoFilter.Containment},
	}
}

// Outcome is the poller's final verdict.
type Outcome struct {
	State          PollState
	Text           string
	ConversationID string
}

var conversationURLRe = regexp.MustCompile(`/c/([A-Za-z0-9-]+)`)

func conversationIDFromURL(url string) string {
	m := conversationURLRe.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// Image-asset URL heuristics: extension or known asset hosts.
var imageAssetURLRe = regexp.MustCompile(`(?i)(\.(png|jpe?g|gif|webp)([?#]|$)|oaiusercontent\.com|files\.openai\.com)`)

// Poll runs the tick loop until the answer settles or the deadline
// elapses. A candidate is only trusted once generation has been observed
// at least once or a conversation id has been resolved; stale page text
// must never pass as a fresh answer.
func (p *Poller) Poll(ctx context.Context, tabID string, req *Request, wait time.Duration) (*Outcome, error) {
	deadline := time.Now().Add(wait)

	var (
		state          = StateGenerating
		generatingSeen bool
		imageAssetSeen bool
		conversationID string
		candidate      string
		lastActivity   = time.Now()
		idleTicks      int
	)

	settleWindow := p.cfg.SettleWindow()
	idleThreshold := p.cfg.Poll.IdleTicks

	for {
		if time.Now().After(deadline) {
			return p.expire(req, state, candidate, conversationID)
		}

		snap, err := p.surface.Snapshot(ctx, tabID)
		if err != nil {
			return nil, wrapOp("poll snapshot", err)
		}
		page := snapshot.Parse(snap.Text)

		if id := conversationIDFromURL(snap.URL); id != "" {
			conversationID = id
		}

		// A "continue generating" control means the answer is still being
		// produced; click it and treat the tick as still-generating.
		if ref, ok := page.ContinueGenerating(); ok {
			if err := p.surface.Click(ctx, tabID, ref); err != nil {
				log.Printf("[poller] continue generating click failed: %v", err)
			}
			generatingSeen = true
			idleTicks = 0
			lastActivity = time.Now()
			state = StateGenerating
			if err := p.sleep(ctx); err != nil {
				return nil, err
			}
			continue
		}

		// Fatal conditions only abort while no candidate has been captured;
		// a transient banner after a good answer must not discard it.
		if candidate == "" {
			if kind, fatal := page.FatalError(); fatal {
				return &Outcome{State: StateFatalError, ConversationID: conversationID},
					&Error{Kind: errorKindFor(kind), Op: "poll", Message: "fatal page error: " + string(kind)}
			}
			if page.LoginRequired() {
				return &Outcome{State: StateFatalError, ConversationID: conversationID},
					&Error{Kind: KindLoginRequired, Op: "poll", Message: "login required"}
			}
		}

		generating := page.Generating()
		if generating {
			generatingSeen = true
			idleTicks = 0
			lastActivity = time.Now()
			state = StateGenerating
		}

		if req.CreateImage && !imageAssetSeen {
			if urls, err := p.surface.VisitedURLs(ctx, tabID); err == nil {
				for _, u := range urls {
					if imageAssetURLRe.MatchString(u) {
						imageAssetSeen = true
						lastActivity = time.Now()
						break
					}
				}
			}
		}

		trusted := generatingSeen || conversationID != "" || imageAssetSeen
		if trusted {
			if text := p.ex.Extract(snap.Text, req.Prompt); text != "" && text != candidate {
				candidate = text
				lastActivity = time.Now()
				idleTicks = 0
				state = StateSettlingCandidate
			}
		}

		if !generating {
			idleTicks++
		}

		haveAnswer := candidate != "" || (req.CreateImage && trusted)
		settledQuiet := time.Since(lastActivity) >= settleWindow
		readyOrIdle := page.ReadyForInput() || idleTicks >= idleThreshold

		if haveAnswer && !generating && settledQuiet && readyOrIdle {
			return &Outcome{State: StateSettled, Text: candidate, ConversationID: conversationID}, nil
		}

		if err := p.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

func (p *Poller) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return wrapOp("poll", ctx.Err())
	case <-time.After(p.cfg.PollInterval()):
		return nil
	}
}

// expire implements the deadline policy: partial progress is returned, not
// silently discarded.
func (p *Poller) expire(req *Request, state PollState, candidate, conversationID string) (*Outcome, error) {
	log.Printf("[poller] deadline elapsed in state %s (candidate=%t, conversation=%q)", state, candidate != "", conversationID)
	if candidate != "" {
		return &Outcome{State: StateTimedOut, Text: candidate, ConversationID: conversationID}, nil
	}
	if req.CreateImage && conversationID != "" {
		return &Outcome{State: StateTimedOut, ConversationID: conversationID}, nil
	}
	return &Outcome{State: StateTimedOut, ConversationID: conversationID},
		timeoutError("poll", candidate, conversationID)
}

func errorKindFor(kind snapshot.ErrorKind) Kind {
	switch kind {
	case snapshot.ErrKindConversationUnavailable:
		return KindConversationUnavailable
	case snapshot.ErrKindLoggedOut:
		return KindLoggedOut
	case snapshot.ErrKindSessionExpired:
		return KindSessionExpired
	default:
		return KindSomethingWrong
	}
}
