// Package snapshot parses the textual accessibility dumps produced by the
// browser backend into typed findings: element references, visible text and
// page-state predicates.
//
// The input format is one node per line:
//
//	@e12 [button] "Send prompt" value="..." (focused)
//
// with two-space indentation per tree depth. Element references are scoped
// to the snapshot they came from and must be re-resolved after every action.
package snapshot

import (
	"regexp"
	"strconv"
	"strings"
)

// Node is one parsed line of a snapshot.
type Node struct {
	Ref     string // "@e12"
	Role    string // "button", "paragraph", ...
	Name    string
	Value   string
	Focused bool
	Depth   int
}

// Page is a parsed snapshot.
type Page struct {
	URL   string
	Nodes []Node
}

var lineRe = regexp.MustCompile(`^(\s*)(@e\d+) \[([^\]]+)\](?: ("(?:[^"\\]|\\.)*"))?(?: value=("(?:[^"\\]|\\.)*"))?( \(focused\))?$`)

// Parse parses rendered snapshot text. It never fails; lines that do not
// look like nodes are skipped.
func Parse(text string) *Page {
	p := &Page{}
	for _, line := range strings.Split(text, "\n") {
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n := Node{
			Ref:     m[2],
			Role:    m[3],
			Depth:   len(m[1]) / 2,
			Focused: m[6] != "",
		}
		if m[4] != "" {
			n.Name = unquote(m[4])
		}
		if m[5] != "" {
			n.Value = unquote(m[5])
		}
		p.Nodes = append(p.Nodes, n)
	}
	return p
}

func unquote(s string) string {
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return strings.Trim(s, `"`)
}

// Ref returns the first element reference whose role matches exactly and
// whose name matches the pattern, in document order.
func (p *Page) Ref(role string, pattern *regexp.Regexp) (string, bool) {
	for _, n := range p.Nodes {
		if n.Role == role && pattern.MatchString(n.Name) {
			return n.Ref, true
		}
	}
	return "", false
}

// RefByLabel returns the first element with the given role and exact name.
func (p *Page) RefByLabel(role, label string) (string, bool) {
	for _, n := range p.Nodes {
		if n.Role == role && n.Name == label {
			return n.Ref, true
		}
	}
	return "", false
}

// FirstByRole returns the first element with the given role.
func (p *Page) FirstByRole(role string) (string, bool) {
	for _, n := range p.Nodes {
		if n.Role == role {
			return n.Ref, true
		}
	}
	return "", false
}

// Item is a clickable menu candidate.
type Item struct {
	Ref  string
	Role string
	Name string
}

// chrome labels that look like options but never are.
var itemDenylist = map[string]bool{
	"close":          true,
	"cancel":         true,
	"dismiss":        true,
	"back":           true,
	"learn more":     true,
	"settings":       true,
	"help":           true,
	"report":         true,
	"share":          true,
	"copy link":      true,
	"open sidebar":   true,
	"close sidebar":  true,
	"upgrade plan":   true,
	"log out":        true,
	"new chat":       true,
	"search chats":   true,
	"profile":        true,
	"send prompt":    true,
	"stop streaming": true,
}

var hasLetterRe = regexp.MustCompile(`[A-Za-z]`)

// plausibleItem filters out controls that cannot be a model or option label.
func plausibleItem(n Node) bool {
	name := strings.TrimSpace(n.Name)
	if len(name) < 2 || len(name) > 64 {
		return false
	}
	if !hasLetterRe.MatchString(name) {
		return false
	}
	if itemDenylist[strings.ToLower(name)] {
		return false
	}
	return true
}

// MenuItems returns the plausible option candidates on the page, in
// document order. Buttons are included because some menus render their
// entries as buttons; the plausibility filter keeps unrelated UI controls
// out of label matching.
func (p *Page) MenuItems() []Item {
	var items []Item
	for _, n := range p.Nodes {
		switch n.Role {
		case "menuitem", "menuitemradio", "option", "button":
		default:
			continue
		}
		if !plausibleItem(n) {
			continue
		}
		items = append(items, Item{Ref: n.Ref, Role: n.Role, Name: n.Name})
	}
	return items
}

// ErrorKind classifies a fatal page-level error banner.
type ErrorKind string

const (
	ErrKindSomethingWrong          ErrorKind = "something_went_wrong"
	ErrKindConversationUnavailable ErrorKind = "conversation_unavailable"
	ErrKindLoggedOut               ErrorKind = "logged_out"
	ErrKindSessionExpired          ErrorKind = "session_expired"
)

var (
	generatingRe = regexp.MustCompile(`(?i)^(stop (generating|streaming)|stop)$`)
	readyRe      = regexp.MustCompile(`(?i)^(send prompt|send message|dictate( button)?|start voice mode)$`)
	loginRe      = regexp.MustCompile(`(?i)^(log ?in|sign ?up|sign in)$`)
	continueRe   = regexp.MustCompile(`(?i)^continue generating$`)
)

// Generating reports whether the page shows a generation-in-progress
// indicator (a stop control or explicit streaming text).
func (p *Page) Generating() bool {
	for _, n := range p.Nodes {
		if n.Role == "button" && generatingRe.MatchString(n.Name) {
			return true
		}
		if isTextRole(n.Role) && strings.Contains(n.Name, "ChatGPT is generating") {
			return true
		}
	}
	return false
}

// ReadyForInput reports whether the composer is ready for the next prompt.
func (p *Page) ReadyForInput() bool {
	for _, n := range p.Nodes {
		if n.Role == "button" && readyRe.MatchString(n.Name) {
			return true
		}
	}
	return false
}

// LoginRequired reports whether the page shows login affordances.
func (p *Page) LoginRequired() bool {
	for _, n := range p.Nodes {
		if (n.Role == "button" || n.Role == "link") && loginRe.MatchString(n.Name) {
			return true
		}
	}
	return false
}

// ContinueGenerating returns the reference of a "Continue generating"
// control if one is present.
func (p *Page) ContinueGenerating() (string, bool) {
	for _, n := range p.Nodes {
		if n.Role == "button" && continueRe.MatchString(n.Name) {
			return n.Ref, true
		}
	}
	return "", false
}

// FatalError reports a fatal page-level error banner and its kind.
func (p *Page) FatalError() (ErrorKind, bool) {
	for _, n := range p.Nodes {
		if !isTextRole(n.Role) && n.Role != "heading" {
			continue
		}
		text := strings.ToLower(n.Name)
		switch {
		case strings.Contains(text, "session has expired"):
			return ErrKindSessionExpired, true
		case strings.Contains(text, "logged out"):
			return ErrKindLoggedOut, true
		case strings.Contains(text, "unable to load conversation"),
			strings.Contains(text, "conversation not found"):
			return ErrKindConversationUnavailable, true
		case strings.Contains(text, "something went wrong"):
			return ErrKindSomethingWrong, true
		}
	}
	return "", false
}

func isTextRole(role string) bool {
	switch role {
	case "text", "StaticText", "paragraph", "alert", "status":
		return true
	}
	return false
}
