package jobs

import (
	"regexp"
	"time"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
)

// Requests carrying a model whose identifier names a slow family are
// routed to background execution regardless of other flags.
var slowModelRe = regexp.MustCompile(`(?i)(pro|thinking|research)`)

// backgroundThreshold is the explicit wait budget above which a request no
// longer runs inline.
const backgroundThreshold = 5 * time.Minute

// Background decides whether a request runs as a tracked background job
// instead of inline. Research, image generation and slow model families
// take minutes to hours; blocking the caller on those is unacceptable.
func Background(req *chatgpt.Request) bool {
	if req.DeepResearch || req.CreateImage {
		return true
	}
	switch req.ModelMode {
	case chatgpt.ModePro, chatgpt.ModeThinking:
		return true
	}
	if req.ModelOverride != "" && slowModelRe.MatchString(req.ModelOverride) {
		return true
	}
	if req.WaitTimeoutMs > 0 && time.Duration(req.WaitTimeoutMs)*time.Millisecond > backgroundThreshold {
		return true
	}
	return false
}
