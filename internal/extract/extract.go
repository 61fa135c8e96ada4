// Package extract recovers the assistant's answer from a rendered page
// snapshot. The page text is a noisy, constantly-reformatted dump that
// contains the echoed user prompt and UI chrome next to the actual reply,
// so extraction is a layered fallback chain: a structured pass over turn
// boundary markers first, then a fuzzy line scan with a prompt-echo filter.
package extract

import (
	"regexp"
	"strings"

	"github.com/Microck/chatgpt-webui-mcp/internal/snapshot"
)

// DefaultContainment is the mutual-containment ratio above which a
// candidate line is treated as an echo of the prompt. Empirically tuned;
// override via Extractor.Containment.
const DefaultContainment = 0.6

// Extractor holds extraction tuning. The zero value uses defaults.
type Extractor struct {
	// Containment in (0, 1]; see DefaultContainment.
	Containment float64
}

// Extract runs the default extractor.
func Extract(snapshotText, prompt string) string {
	return Extractor{}.Extract(snapshotText, prompt)
}

const (
	userTurnMarker      = "You said:"
	assistantTurnMarker = "ChatGPT said:"
)

// Action-button labels that terminate an assistant turn.
var turnEndButtonRe = regexp.MustCompile(`(?i)^(copy|good response|bad response|read aloud|edit in canvas|regenerate|share|switch model|more actions)$`)

// Extract decides which visible text is "the answer" for the given prompt.
// It never fails; absence of a confident answer yields the empty string.
func (e Extractor) Extract(snapshotText, prompt string) string {
	page := snapshot.Parse(snapshotText)
	if len(page.Nodes) == 0 {
		return ""
	}

	if text, ok := e.structured(page); ok {
		return text
	}
	return e.fallback(page, prompt)
}

// structured collects the content blocks of the last assistant turn,
// bounded by the next turn marker or a terminal action-button row.
func (e Extractor) structured(page *snapshot.Page) (string, bool) {
	var turns []string
	nodes := page.Nodes

	for i := 0; i < len(nodes); i++ {
		if !isTurnHeading(nodes[i], assistantTurnMarker) {
			continue
		}

		var blocks []string
		for j := i + 1; j < len(nodes); j++ {
			n := nodes[j]
			if isTurnHeading(n, assistantTurnMarker) || isTurnHeading(n, userTurnMarker) {
				i = j - 1
				break
			}
			if n.Role == "button" && turnEndButtonRe.MatchString(n.Name) {
				i = j
				break
			}
			if b, ok := renderBlock(n); ok {
				blocks = append(blocks, b)
			}
			i = j
		}

		if len(blocks) > 0 {
			turns = append(turns, strings.Join(blocks, "\n\n"))
		} else {
			// A marker with no content yet (mid-stream) still counts as a
			// turn so multi-turn snapshots return the latest one.
			turns = append(turns, "")
		}
	}

	if len(turns) == 0 {
		return "", false
	}
	return turns[len(turns)-1], true
}

// renderBlock maps one content node to its markdown-ish representation.
func renderBlock(n snapshot.Node) (string, bool) {
	text := strings.TrimSpace(n.Name)
	switch n.Role {
	case "paragraph", "text", "StaticText":
		if text == "" {
			return "", false
		}
		return text, true
	case "heading":
		if text == "" {
			return "", false
		}
		return "## " + text, true
	case "listitem":
		if text == "" {
			return "", false
		}
		return "- " + text, true
	case "code":
		v := n.Value
		if v == "" {
			v = text
		}
		if v == "" {
			return "", false
		}
		return "```\n" + v + "\n```", true
	case "blockquote":
		if text == "" {
			return "", false
		}
		return "> " + text, true
	case "separator":
		return "---", true
	}
	return "", false
}

func isTurnHeading(n snapshot.Node, marker string) bool {
	return n.Role == "heading" && strings.TrimSpace(n.Name) == marker
}

// Known UI chrome that shows up in text roles but is never an answer.
var chromeDenylist = []string{
	"chatgpt can make mistakes",
	"check important info",
	"ask anything",
	"temporary chat",
	"free research preview",
	"by messaging chatgpt",
	"see cookie preferences",
	"chatgpt is generating",
	"upgrade to plus",
	"what can i help with",
}

func isChrome(text string) bool {
	lower := strings.ToLower(text)
	for _, c := range chromeDenylist {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// fallback scans text-bearing lines outside user-turn regions and filters
// prompt echoes. Used when the structured markers are absent, e.g. during
// mid-stream rendering or when the site's wording changed.
func (e Extractor) fallback(page *snapshot.Page, prompt string) string {
	ratio := e.Containment
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultContainment
	}

	type candidate struct {
		index int
		text  string
	}
	var cands []candidate
	lastEcho := -1

	inUserTurn := false
	for i, n := range page.Nodes {
		if n.Role == "heading" {
			inUserTurn = strings.TrimSpace(n.Name) == userTurnMarker
			continue
		}
		switch n.Role {
		case "paragraph", "text", "StaticText", "emphasis", "strong":
		default:
			continue
		}
		text := strings.TrimSpace(n.Name)
		if text == "" || inUserTurn {
			continue
		}
		if isEcho(text, prompt, ratio) {
			lastEcho = i
			continue
		}
		if isChrome(text) {
			continue
		}
		cands = append(cands, candidate{index: i, text: text})
	}

	if len(cands) == 0 {
		return ""
	}

	// Lines after the last prompt echo are more likely genuine responses.
	// Deliberately the last candidate, not the longest: longest biases
	// toward partial echoes of long prompts.
	for i := len(cands) - 1; i >= 0; i-- {
		if cands[i].index > lastEcho {
			return cands[i].text
		}
	}
	return cands[len(cands)-1].text
}

var spaceRe = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(spaceRe.ReplaceAllString(s, " ")))
}

// isEcho reports whether candidate is (close to) a restatement of the
// prompt: equal after whitespace normalization, or one contains the other
// and the contained part covers at least ratio of the container's length.
// The fuzziness tolerates the surface re-wrapping long prompts.
func isEcho(candidate, prompt string, ratio float64) bool {
	nc, np := normalize(candidate), normalize(prompt)
	if nc == "" || np == "" {
		return false
	}
	if nc == np {
		return true
	}
	if strings.Contains(nc, np) && float64(len(np)) >= ratio*float64(len(nc)) {
		return true
	}
	if strings.Contains(np, nc) && float64(len(nc)) >= ratio*float64(len(np)) {
		return true
	}
	return false
}
