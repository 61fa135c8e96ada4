package chatgpt

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/Microck/chatgpt-webui-mcp/internal/browser"
	"github.com/Microck/chatgpt-webui-mcp/internal/config"
	"github.com/Microck/chatgpt-webui-mcp/internal/snapshot"
)

// Driver sequences the remote calls needed to reach a target conversation
// configuration and submit the prompt. It only uses navigate, snapshot,
// click, type, press and wait-idle; every element reference is re-resolved
// from a fresh snapshot before use.
type Driver struct {
	surface Surface
	cfg     *config.Config
}

// NewDriver creates a driver over the given surface.
func NewDriver(surface Surface, cfg *config.Config) *Driver {
	return &Driver{surface: surface, cfg: cfg}
}

// Report records what the driver did, including best-effort steps that
// degraded instead of failing.
type Report struct {
	Steps []StepOutcome
}

func (r *Report) record(step string, applied bool, detail string) {
	r.Steps = append(r.Steps, StepOutcome{Step: step, Applied: applied, Detail: detail})
	if !applied {
		log.Printf("[driver] step %s degraded: %s", step, detail)
	}
}

// OpenSession acquires a fresh tab and injects the session credential.
func (d *Driver) OpenSession(ctx context.Context) (string, error) {
	token := d.cfg.GetSessionToken()
	if token == "" {
		return "", &Error{Kind: KindConfig, Op: "open session", Message: "no session token configured"}
	}

	tabID, err := d.surface.CreateTab(ctx)
	if err != nil {
		return "", wrapOp("open session", err)
	}

	domain := cookieDomain(d.cfg.ChatGPT.BaseURL)
	err = d.surface.SetCookies(ctx, tabID, []browser.Cookie{{
		Name:     sessionCookieName,
		Value:    token,
		Domain:   domain,
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
	}})
	if err != nil {
		d.surface.DeleteTab(ctx, tabID)
		return "", wrapOp("open session", err)
	}
	return tabID, nil
}

func cookieDomain(baseURL string) string {
	host := baseURL
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return host
}

func (d *Driver) page(ctx context.Context, tabID string) (*snapshot.Page, *browser.Snapshot, error) {
	snap, err := d.surface.Snapshot(ctx, tabID)
	if err != nil {
		return nil, nil, err
	}
	p := snapshot.Parse(snap.Text)
	p.URL = snap.URL
	return p, snap, nil
}

var (
	workspacePickerRe = regexp.MustCompile(`(?i)(choose|select) (a |your )?workspace`)
	consentButtonRe   = regexp.MustCompile(`(?i)^(accept all( cookies)?|reject non-essential|i agree)$`)
	sidebarToggleRe   = regexp.MustCompile(`(?i)^open sidebar$`)
	deepResearchRe    = regexp.MustCompile(`(?i)^deep research$`)
	sourcesMenuRe     = regexp.MustCompile(`(?i)^(sources|search sources)$`)
	createImageRe     = regexp.MustCompile(`(?i)^create image$`)
	toolsMenuRe       = regexp.MustCompile(`(?i)^(tools|more|view tools)$`)
	modelPickerRe     = regexp.MustCompile(`(?i)(model selector|model picker|^chatgpt( \d[\d.]*)?$)`)
	sendButtonRe      = regexp.MustCompile(`(?i)^send (prompt|message)$`)
)

// Prepare navigates to the conversation and applies the requested
// configuration: workspace, consent, auth check, research mode, image
// mode, model, reasoning depth. The caller validates the request first.
func (d *Driver) Prepare(ctx context.Context, tabID string, req *Request) (*Report, error) {
	report := &Report{}

	// Navigate to a fresh conversation root or the resume URL.
	target := d.cfg.ChatGPT.BaseURL + "/"
	if req.ConversationID != "" {
		target = d.cfg.ChatGPT.BaseURL + "/c/" + req.ConversationID
	}
	if err := d.surface.Navigate(ctx, tabID, target); err != nil {
		return report, wrapOp("prepare navigate", err)
	}
	if err := d.surface.WaitIdle(ctx, tabID, 15*time.Second); err != nil {
		// Busy pages never go fully idle; proceed on a timeout.
		log.Printf("[driver] wait idle after navigate: %v", err)
	}

	if err := d.resolveWorkspace(ctx, tabID, req, report); err != nil {
		return report, err
	}
	d.dismissConsent(ctx, tabID, report)

	page, _, err := d.page(ctx, tabID)
	if err != nil {
		return report, wrapOp("prepare snapshot", err)
	}
	if page.LoginRequired() {
		return report, &Error{Kind: KindLoginRequired, Op: "prepare", Message: "page shows login affordances"}
	}

	if req.DeepResearch {
		if err := d.enableResearch(ctx, tabID, req, report); err != nil {
			return report, err
		}
	}
	if req.CreateImage {
		d.enableImageMode(ctx, tabID, report)
	}
	if model := requestedModel(req); model != "" {
		d.selectModel(ctx, tabID, req, model, report)
	}
	if req.ReasoningEffort != "" {
		if err := d.applyReasoningEffort(ctx, tabID, req.ReasoningEffort, report); err != nil {
			return report, err
		}
	}

	return report, nil
}

// requestedModel returns the model identifier that needs explicit picker
// interaction, or "" when the default is fine.
func requestedModel(req *Request) string {
	if req.ModelOverride != "" && !strings.EqualFold(req.ModelOverride, "auto") {
		return req.ModelOverride
	}
	if req.ModelMode != "" && req.ModelMode != ModeAuto {
		return string(req.ModelMode)
	}
	return ""
}

const workspaceAttempts = 3

// resolveWorkspace clears the "choose a workspace" interstitial when it
// blocks the page. The caller's named workspace wins; otherwise the first
// available option is taken.
func (d *Driver) resolveWorkspace(ctx context.Context, tabID string, req *Request, report *Report) error {
	preferred := req.Workspace
	if preferred == "" {
		preferred = d.cfg.ChatGPT.Workspace
	}

	for attempt := 0; attempt < workspaceAttempts; attempt++ {
		page, _, err := d.page(ctx, tabID)
		if err != nil {
			return wrapOp("workspace", err)
		}

		blocked := false
		for _, n := range page.Nodes {
			if (n.Role == "heading" || n.Role == "text" || n.Role == "StaticText") && workspacePickerRe.MatchString(n.Name) {
				blocked = true
				break
			}
		}
		if !blocked {
			if attempt > 0 {
				report.record("workspace", true, preferred)
			}
			return nil
		}

		items := page.MenuItems()
		if len(items) == 0 {
			return &Error{Kind: KindWorkspaceUnresolved, Op: "workspace", Message: "picker shown but no options found"}
		}

		pick := items[0]
		if preferred != "" {
			for _, it := range items {
				if strings.EqualFold(it.Name, preferred) || strings.Contains(strings.ToLower(it.Name), strings.ToLower(preferred)) {
					pick = it
					break
				}
			}
		}

		if err := d.surface.Click(ctx, tabID, pick.Ref); err != nil {
			return wrapOp("workspace", err)
		}
		d.surface.WaitIdle(ctx, tabID, 5*time.Second)
	}

	// Still blocked after bounded retries.
	page, _, err := d.page(ctx, tabID)
	if err == nil {
		for _, n := range page.Nodes {
			if workspacePickerRe.MatchString(n.Name) {
				return &Error{Kind: KindWorkspaceUnresolved, Op: "workspace", Message: "picker still shown after retries"}
			}
		}
		return nil
	}
	return &Error{Kind: KindWorkspaceUnresolved, Op: "workspace", Message: "picker state unknown after retries"}
}

// dismissConsent clicks through known consent interstitials. Best-effort:
// absence of a dialog is the normal case.
func (d *Driver) dismissConsent(ctx context.Context, tabID string, report *Report) {
	page, _, err := d.page(ctx, tabID)
	if err != nil {
		report.record("consent", false, err.Error())
		return
	}
	ref, ok := page.Ref("button", consentButtonRe)
	if !ok {
		return
	}
	if err := d.surface.Click(ctx, tabID, ref); err != nil {
		report.record("consent", false, err.Error())
		return
	}
	report.record("consent", true, "dismissed")
}

// enableResearch activates deep research and, when requested, its source
// scope. Each missing control gets a distinct failure reason.
func (d *Driver) enableResearch(ctx context.Context, tabID string, req *Request, report *Report) error {
	page, _, err := d.page(ctx, tabID)
	if err != nil {
		return wrapOp("research mode", err)
	}

	ref, ok := findAny(page, deepResearchRe, "button", "link", "menuitem")
	if !ok {
		// The entry may live in a collapsed side navigation.
		if toggle, found := page.Ref("button", sidebarToggleRe); found {
			if err := d.surface.Click(ctx, tabID, toggle); err != nil {
				return wrapOp("research mode open sidebar", err)
			}
			page, _, err = d.page(ctx, tabID)
			if err != nil {
				return wrapOp("research mode", err)
			}
			ref, ok = findAny(page, deepResearchRe, "button", "link", "menuitem")
		}
	}
	if !ok {
		return &Error{Kind: KindControlNotFound, Op: "research mode", Message: "deep research entry not found"}
	}
	if err := d.surface.Click(ctx, tabID, ref); err != nil {
		return wrapOp("research mode", err)
	}
	report.record("research", true, "activated")

	if req.DeepResearchSiteMode == "" {
		return nil
	}

	page, _, err = d.page(ctx, tabID)
	if err != nil {
		return wrapOp("research sources", err)
	}
	menuRef, ok := page.Ref("button", sourcesMenuRe)
	if !ok {
		return &Error{Kind: KindControlNotFound, Op: "research sources", Message: "sources menu not found"}
	}
	if err := d.surface.Click(ctx, tabID, menuRef); err != nil {
		return wrapOp("research sources", err)
	}

	page, _, err = d.page(ctx, tabID)
	if err != nil {
		return wrapOp("research sources", err)
	}
	var wantRe *regexp.Regexp
	switch req.DeepResearchSiteMode {
	case SiteModeSearchWeb:
		wantRe = regexp.MustCompile(`(?i)^search the web$`)
	case SiteModeSpecificSites:
		wantRe = regexp.MustCompile(`(?i)^specific sites$`)
	}
	itemRef, ok := findAny(page, wantRe, "menuitem", "menuitemradio", "option", "button")
	if !ok {
		return &Error{Kind: KindControlNotFound, Op: "research sources", Message: "site scope option not found: " + string(req.DeepResearchSiteMode)}
	}
	if err := d.surface.Click(ctx, tabID, itemRef); err != nil {
		return wrapOp("research sources", err)
	}
	report.record("research sources", true, string(req.DeepResearchSiteMode))
	return nil
}

// enableImageMode toggles image generation on, best-effort: a direct chip
// first, then a nested tools menu. Submitting without confirmed image mode
// beats failing the whole run.
func (d *Driver) enableImageMode(ctx context.Context, tabID string, report *Report) {
	page, _, err := d.page(ctx, tabID)
	if err != nil {
		report.record("image mode", false, err.Error())
		return
	}

	if ref, ok := page.Ref("button", createImageRe); ok {
		if err := d.surface.Click(ctx, tabID, ref); err != nil {
			report.record("image mode", false, err.Error())
			return
		}
		report.record("image mode", true, "direct toggle")
		return
	}

	menuRef, ok := page.Ref("button", toolsMenuRe)
	if !ok {
		report.record("image mode", false, "no image toggle or tools menu found")
		return
	}
	if err := d.surface.Click(ctx, tabID, menuRef); err != nil {
		report.record("image mode", false, err.Error())
		return
	}

	page, _, err = d.page(ctx, tabID)
	if err != nil {
		report.record("image mode", false, err.Error())
		return
	}
	itemRef, ok := findAny(page, createImageRe, "menuitem", "menuitemradio", "option", "button")
	if !ok {
		report.record("image mode", false, "create image entry not in tools menu")
		return
	}
	if err := d.surface.Click(ctx, tabID, itemRef); err != nil {
		report.record("image mode", false, err.Error())
		return
	}
	report.record("image mode", true, "tools menu")
}

// selectModel picks the requested model in the model selector. Failure is
// tolerated: a long job should not die over a cosmetic model mismatch.
func (d *Driver) selectModel(ctx context.Context, tabID string, req *Request, model string, report *Report) {
	page, _, err := d.page(ctx, tabID)
	if err != nil {
		report.record("model", false, err.Error())
		return
	}

	pickerRef, ok := page.Ref("button", modelPickerRe)
	if !ok {
		report.record("model", false, "model selector not found")
		return
	}
	if err := d.surface.Click(ctx, tabID, pickerRef); err != nil {
		report.record("model", false, err.Error())
		return
	}

	page, _, err = d.page(ctx, tabID)
	if err != nil {
		report.record("model", false, err.Error())
		return
	}

	if it, found := d.matchRequested(req, model, page.MenuItems()); found {
		if err := d.surface.Click(ctx, tabID, it.Ref); err != nil {
			report.record("model", false, err.Error())
			return
		}
		report.record("model", true, it.Name)
		return
	}

	// Not in the top-level menu; try each known submenu category.
	for _, category := range submenuCategories {
		catRef, found := findAny(page, regexp.MustCompile(`(?i)^`+regexp.QuoteMeta(category)+`$`), "menuitem", "button")
		if !found {
			continue
		}
		if err := d.surface.Click(ctx, tabID, catRef); err != nil {
			continue
		}
		page, _, err = d.page(ctx, tabID)
		if err != nil {
			report.record("model", false, err.Error())
			return
		}
		if it, found := d.matchRequested(req, model, page.MenuItems()); found {
			if err := d.surface.Click(ctx, tabID, it.Ref); err != nil {
				report.record("model", false, err.Error())
				return
			}
			report.record("model", true, category+" > "+it.Name)
			return
		}
	}

	report.record("model", false, "no menu item matched "+model)
}

func (d *Driver) matchRequested(req *Request, model string, items []snapshot.Item) (snapshot.Item, bool) {
	if req.ModelOverride != "" && !strings.EqualFold(req.ModelOverride, "auto") {
		return matchModelItem(model, items)
	}
	return matchModeItem(req.ModelMode, items)
}

// Reasoning-depth chips. An active chip exposes a "click to remove" label
// variant; the three depths form a strict order none < standard < extended.
var (
	chipStandardRe = regexp.MustCompile(`(?i)^think( \(click to remove\))?$`)
	chipExtendedRe = regexp.MustCompile(`(?i)^think longer( \(click to remove\))?$`)
	chipActiveRe   = regexp.MustCompile(`(?i)\(click to remove\)`)
)

// reasoningState is which chips are currently active.
type reasoningState struct {
	standard bool
	extended bool
}

func readReasoningState(page *snapshot.Page) reasoningState {
	var st reasoningState
	for _, n := range page.Nodes {
		if n.Role != "button" {
			continue
		}
		switch {
		case chipStandardRe.MatchString(n.Name):
			st.standard = chipActiveRe.MatchString(n.Name)
		case chipExtendedRe.MatchString(n.Name):
			st.extended = chipActiveRe.MatchString(n.Name)
		}
	}
	return st
}

// reasoningClicks returns the chips to toggle, in order, to reach target
// from st without redundant clicks: active non-target chips come off, then
// the target chip goes on if it is not already.
func reasoningClicks(st reasoningState, target ReasoningEffort) []ReasoningEffort {
	var clicks []ReasoningEffort
	if st.standard && target != EffortStandard {
		clicks = append(clicks, EffortStandard)
	}
	if st.extended && target != EffortExtended {
		clicks = append(clicks, EffortExtended)
	}
	switch target {
	case EffortStandard:
		if !st.standard {
			clicks = append(clicks, EffortStandard)
		}
	case EffortExtended:
		if !st.extended {
			clicks = append(clicks, EffortExtended)
		}
	}
	return clicks
}

func (d *Driver) applyReasoningEffort(ctx context.Context, tabID string, target ReasoningEffort, report *Report) error {
	page, _, err := d.page(ctx, tabID)
	if err != nil {
		return wrapOp("reasoning effort", err)
	}

	clicks := reasoningClicks(readReasoningState(page), target)
	if len(clicks) == 0 {
		report.record("reasoning", true, "already at "+string(target))
		return nil
	}

	for _, chip := range clicks {
		re := chipStandardRe
		if chip == EffortExtended {
			re = chipExtendedRe
		}
		// Re-resolve from a fresh snapshot before each click.
		page, _, err = d.page(ctx, tabID)
		if err != nil {
			return wrapOp("reasoning effort", err)
		}
		ref, ok := page.Ref("button", re)
		if !ok {
			return &Error{Kind: KindControlNotFound, Op: "reasoning effort", Message: "chip not found for " + string(chip)}
		}
		if err := d.surface.Click(ctx, tabID, ref); err != nil {
			return wrapOp("reasoning effort", err)
		}
	}
	report.record("reasoning", true, string(target))
	return nil
}

// Ordered selector candidates for the composer input.
var composerSelectors = []string{
	"#prompt-textarea",
	"div[contenteditable=\"true\"]",
	"textarea[data-testid=\"prompt-textarea\"]",
	"textarea[placeholder]",
}

// Submit types the prompt and sends it. Typing fails only when every
// strategy fails; sending falls back to a labeled send control when no
// generating indicator shows up within the grace window.
func (d *Driver) Submit(ctx context.Context, tabID string, req *Request, report *Report) error {
	typed := false
	for _, sel := range composerSelectors {
		if err := d.surface.Type(ctx, tabID, sel, req.Prompt); err == nil {
			typed = true
			break
		}
	}
	if !typed {
		page, _, err := d.page(ctx, tabID)
		if err != nil {
			return wrapOp("type prompt", err)
		}
		ref, ok := page.FirstByRole("textbox")
		if !ok {
			return &Error{Kind: KindControlNotFound, Op: "type prompt", Message: "no composer selector or textbox matched"}
		}
		if err := d.surface.Type(ctx, tabID, ref, req.Prompt); err != nil {
			return wrapOp("type prompt", err)
		}
	}

	if err := d.surface.Press(ctx, tabID, "Enter"); err != nil {
		return wrapOp("submit", err)
	}

	// Grace window: wait for a generating indicator; otherwise click send.
	deadline := time.Now().Add(d.cfg.SubmitGrace())
	for time.Now().Before(deadline) {
		page, _, err := d.page(ctx, tabID)
		if err != nil {
			return wrapOp("submit", err)
		}
		if page.Generating() {
			report.record("submit", true, "enter")
			return nil
		}
		select {
		case <-ctx.Done():
			return wrapOp("submit", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}

	page, _, err := d.page(ctx, tabID)
	if err != nil {
		return wrapOp("submit", err)
	}
	if ref, ok := page.Ref("button", sendButtonRe); ok {
		if err := d.surface.Click(ctx, tabID, ref); err != nil {
			return wrapOp("submit", err)
		}
		report.record("submit", true, "send button fallback")
		return nil
	}

	// No indicator and no send control; let the poller decide.
	report.record("submit", false, "no generating indicator within grace window")
	return nil
}

// findAny returns the first element whose role is any of roles and whose
// name matches pattern, in document order.
func findAny(page *snapshot.Page, pattern *regexp.Regexp, roles ...string) (string, bool) {
	for _, role := range roles {
		if ref, ok := page.Ref(role, pattern); ok {
			return ref, true
		}
	}
	return "", false
}
