// Package chatgpt drives the ChatGPT web application through the browser
// automation backend: it configures a conversation, submits a prompt, polls
// the page until the answer settles and collects image artifacts.
package chatgpt

import "fmt"

// ModelMode selects a coarse model family.
type ModelMode string

const (
	ModeAuto     ModelMode = "auto"
	ModeInstant  ModelMode = "instant"
	ModeThinking ModelMode = "thinking"
	ModePro      ModelMode = "pro"
)

// ReasoningEffort selects the reasoning depth override.
type ReasoningEffort string

const (
	EffortNone     ReasoningEffort = "none"
	EffortStandard ReasoningEffort = "standard"
	EffortExtended ReasoningEffort = "extended"
)

// SiteMode scopes deep research sources.
type SiteMode string

const (
	SiteModeSearchWeb     SiteMode = "search_web"
	SiteModeSpecificSites SiteMode = "specific_sites"
)

// Request describes one completion request.
type Request struct {
	Prompt string `json:"prompt"`

	ModelOverride   string          `json:"model,omitempty"`
	ModelMode       ModelMode       `json:"model_mode,omitempty"`
	ReasoningEffort ReasoningEffort `json:"reasoning_effort,omitempty"`

	DeepResearch         bool     `json:"deep_research,omitempty"`
	DeepResearchSiteMode SiteMode `json:"deep_research_site_mode,omitempty"`

	CreateImage bool `json:"create_image,omitempty"`

	WaitTimeoutMs int    `json:"wait_timeout_ms,omitempty"`
	Workspace     string `json:"workspace,omitempty"`

	ConversationID  string `json:"conversation_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

// Validate rejects malformed requests before any remote interaction.
func (r *Request) Validate() error {
	if r.Prompt == "" {
		return &Error{Kind: KindConfig, Op: "validate request", Message: "prompt must not be empty"}
	}
	if r.CreateImage && (r.DeepResearch || r.DeepResearchSiteMode != "") {
		return &Error{Kind: KindConfig, Op: "validate request", Message: "create_image and deep research options are mutually exclusive"}
	}
	switch r.ModelMode {
	case "", ModeAuto, ModeInstant, ModeThinking, ModePro:
	default:
		return &Error{Kind: KindConfig, Op: "validate request", Message: fmt.Sprintf("unknown model mode %q", r.ModelMode)}
	}
	switch r.ReasoningEffort {
	case "", EffortNone, EffortStandard, EffortExtended:
	default:
		return &Error{Kind: KindConfig, Op: "validate request", Message: fmt.Sprintf("unknown reasoning effort %q", r.ReasoningEffort)}
	}
	switch r.DeepResearchSiteMode {
	case "", SiteModeSearchWeb, SiteModeSpecificSites:
	default:
		return &Error{Kind: KindConfig, Op: "validate request", Message: fmt.Sprintf("unknown site mode %q", r.DeepResearchSiteMode)}
	}
	return nil
}

// ImageArtifact is one collected image.
type ImageArtifact struct {
	AssetPointer string `json:"asset_pointer,omitempty"`
	SourceURL    string `json:"source_url"`
	MimeType     string `json:"mime_type,omitempty"`
	ByteSize     int64  `json:"byte_size,omitempty"`
	InlineData   []byte `json:"inline_data,omitempty"`
}

// Result is the outcome of a successful request. Produced exactly once per
// job; immutable thereafter.
type Result struct {
	Text            string          `json:"text"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	ParentMessageID string          `json:"parent_message_id,omitempty"`
	Model           string          `json:"model,omitempty"`
	ImageURLs       []string        `json:"image_urls,omitempty"`
	ImageDataURL    string          `json:"image_data_url,omitempty"`
	Images          []ImageArtifact `json:"images,omitempty"`
}

// StepOutcome records a best-effort driver step. Applied false means the
// step degraded (its target control was not found) without failing the run.
type StepOutcome struct {
	Step    string `json:"step"`
	Applied bool   `json:"applied"`
	Detail  string `json:"detail,omitempty"`
}
