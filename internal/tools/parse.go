package tools

import (
	"regexp"
	"strings"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
)

// Best-effort slot filler: callers can pass a free-text instruction next to
// the structured fields, and anything it recognizably names fills a field
// the caller left unset. Structured fields always win.

var (
	researchRe = regexp.MustCompile(`(?i)\bdeep\s*research\b`)
	imageRe    = regexp.MustCompile(`(?i)\b(create|generate|draw|make|produce)\b[^.]*\b(image|picture|photo|logo|illustration|drawing)\b|\bimage\s+of\b`)

	extendedRe = regexp.MustCompile(`(?i)\b(think\s+longer|extended\s+(reasoning|thinking))\b`)
	standardRe = regexp.MustCompile(`(?i)\b(think|reason)\b`)

	modelSlugRe = regexp.MustCompile(`(?i)\b(?:use|using|with|on)\s+(?:the\s+)?(?:model\s+)?(gpt-[\w.-]+|o[0-9][\w.-]*|chatgpt-[\w.-]+)`)

	proModeRe      = regexp.MustCompile(`(?i)\bpro\s+(mode|model)\b`)
	thinkingModeRe = regexp.MustCompile(`(?i)\bthinking\s+(mode|model)\b`)
	instantModeRe  = regexp.MustCompile(`(?i)\binstant\s+(mode|model)\b`)

	specificSitesRe = regexp.MustCompile(`(?i)\bspecific\s+sites\b`)
	searchWebRe     = regexp.MustCompile(`(?i)\bsearch\s+the\s+web\b`)
)

// Fill extracts model, mode, research and image intents from a raw
// instruction string into unset request fields. It never overrides a field
// the caller set explicitly.
func Fill(req *chatgpt.Request, instructions string) {
	text := strings.TrimSpace(instructions)
	if text == "" {
		return
	}

	if !req.DeepResearch && researchRe.MatchString(text) {
		req.DeepResearch = true
	}
	if !req.CreateImage && !req.DeepResearch && imageRe.MatchString(text) {
		req.CreateImage = true
	}

	if req.ReasoningEffort == "" {
		switch {
		case extendedRe.MatchString(text):
			req.ReasoningEffort = chatgpt.EffortExtended
		case standardRe.MatchString(text):
			req.ReasoningEffort = chatgpt.EffortStandard
		}
	}

	if req.ModelOverride == "" {
		if m := modelSlugRe.FindStringSubmatch(text); m != nil {
			req.ModelOverride = strings.ToLower(strings.TrimRight(m[1], ".,;:"))
		}
	}

	if req.ModelMode == "" && req.ModelOverride == "" {
		switch {
		case proModeRe.MatchString(text):
			req.ModelMode = chatgpt.ModePro
		case thinkingModeRe.MatchString(text):
			req.ModelMode = chatgpt.ModeThinking
		case instantModeRe.MatchString(text):
			req.ModelMode = chatgpt.ModeInstant
		}
	}

	if req.DeepResearch && req.DeepResearchSiteMode == "" {
		switch {
		case specificSitesRe.MatchString(text):
			req.DeepResearchSiteMode = chatgpt.SiteModeSpecificSites
		case searchWebRe.MatchString(text):
			req.DeepResearchSiteMode = chatgpt.SiteModeSearchWeb
		}
	}
}
