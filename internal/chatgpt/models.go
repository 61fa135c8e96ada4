package chatgpt

import (
	"regexp"
	"strings"

	"github.com/Microck/chatgpt-webui-mcp/internal/snapshot"
)

// modelLabels maps known model identifiers to the menu label patterns the
// model picker renders for them. Exact known mappings take priority over
// the token-conjunction fallback below.
var modelLabels = map[string]*regexp.Regexp{
	"auto":             regexp.MustCompile(`(?i)\bauto\b`),
	"gpt-5.1":          regexp.MustCompile(`(?i)^(chatgpt\s*)?5\.1$`),
	"gpt-5.1-instant":  regexp.MustCompile(`(?i)5\.1.*instant|instant.*5\.1`),
	"gpt-5.1-thinking": regexp.MustCompile(`(?i)5\.1.*thinking|thinking.*5\.1`),
	"gpt-5.1-pro":      regexp.MustCompile(`(?i)5\.1.*pro\b|\bpro\b.*5\.1`),
	"gpt-5":            regexp.MustCompile(`(?i)^(chatgpt\s*)?5$`),
	"gpt-4o":           regexp.MustCompile(`(?i)\b4o\b`),
	"gpt-4.1":          regexp.MustCompile(`(?i)\b4\.1\b`),
	"o3":               regexp.MustCompile(`(?i)^o3\b`),
	"o4-mini":          regexp.MustCompile(`(?i)^o4[\s-]?mini\b`),
	"gpt-5-pro":        regexp.MustCompile(`(?i)^(gpt[\s-]?)?5[\s-]?pro\b`),
	"gpt-5.1-codex":    regexp.MustCompile(`(?i)5\.1.*codex|codex.*5\.1`),
}

// modeLabels maps the coarse model modes onto picker labels.
var modeLabels = map[ModelMode]*regexp.Regexp{
	ModeAuto:     regexp.MustCompile(`(?i)\bauto\b`),
	ModeInstant:  regexp.MustCompile(`(?i)\binstant\b`),
	ModeThinking: regexp.MustCompile(`(?i)\bthinking\b`),
	ModePro:      regexp.MustCompile(`(?i)\bpro\b`),
}

// submenuCategories are the picker submenus tried, in order, when the
// requested model is absent from the top-level menu.
var submenuCategories = []string{"Legacy models", "More models", "Other models"}

// slug tokens too generic to demand in a label match.
var genericTokens = map[string]bool{
	"gpt":     true,
	"chatgpt": true,
	"model":   true,
	"openai":  true,
}

// tokenConjunction reports whether every non-generic hyphen-split slug
// token of model appears in label. This is the fallback for identifiers
// missing from the known-label table.
func tokenConjunction(model, label string) bool {
	key := strings.ToLower(strings.TrimSpace(model))
	lower := strings.ToLower(label)
	matched := false
	for _, tok := range strings.FieldsFunc(key, func(r rune) bool { return r == '-' || r == '_' || r == ' ' }) {
		if tok == "" || genericTokens[tok] {
			continue
		}
		if !strings.Contains(lower, tok) {
			return false
		}
		matched = true
	}
	return matched
}

// matchModelItem finds the menu item for the requested model identifier
// among the given candidates. Exact known mappings first, then the
// token-conjunction fallback for unknown identifiers.
func matchModelItem(model string, items []snapshot.Item) (snapshot.Item, bool) {
	if re, ok := modelLabels[strings.ToLower(strings.TrimSpace(model))]; ok {
		for _, it := range items {
			if re.MatchString(it.Name) {
				return it, true
			}
		}
		return snapshot.Item{}, false
	}
	for _, it := range items {
		if tokenConjunction(model, it.Name) {
			return it, true
		}
	}
	return snapshot.Item{}, false
}

// matchModeItem finds the menu item for a coarse model mode.
func matchModeItem(mode ModelMode, items []snapshot.Item) (snapshot.Item, bool) {
	re, ok := modeLabels[mode]
	if !ok {
		return snapshot.Item{}, false
	}
	for _, it := range items {
		if re.MatchString(it.Name) {
			return it, true
		}
	}
	return snapshot.Item{}, false
}
