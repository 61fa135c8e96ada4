package chatgpt

import (
	"testing"

	"github.com/Microck/chatgpt-webui-mcp/internal/snapshot"
)

func items(names ...string) []snapshot.Item {
	out := make([]snapshot.Item, len(names))
	for i, n := range names {
		out[i] = snapshot.Item{Ref: "@e" + string(rune('1'+i)), Role: "menuitem", Name: n}
	}
	return out
}

func TestMatchModelItem(t *testing.T) {
	menu := items("Auto", "5.1 Instant", "5.1 Thinking", "GPT-4o", "o3", "o4-mini")

	tests := []struct {
		model string
		want  string
		ok    bool
	}{
		{"gpt-4o", "GPT-4o", true},
		{"GPT-4O", "GPT-4o", true},
		{"gpt-5.1-thinking", "5.1 Thinking", true},
		{"gpt-5.1-instant", "5.1 Instant", true},
		{"o3", "o3", true},
		{"o4-mini", "o4-mini", true},
		{"auto", "Auto", true},
		{"gpt-6-turbo", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			it, ok := matchModelItem(tt.model, menu)
			if ok != tt.ok {
				t.Fatalf("ok = %t, want %t", ok, tt.ok)
			}
			if ok && it.Name != tt.want {
				t.Errorf("matched %q, want %q", it.Name, tt.want)
			}
		})
	}
}

func TestMatchModelItemUnknownSlugFallback(t *testing.T) {
	// An identifier missing from the label table matches when every
	// meaningful token appears in the label.
	menu := items("5.2 Flash Preview", "5.1 Thinking")

	it, ok := matchModelItem("gpt-5.2-flash", menu)
	if !ok {
		t.Fatal("expected token fallback match")
	}
	if it.Name != "5.2 Flash Preview" {
		t.Errorf("matched %q", it.Name)
	}

	if _, ok := matchModelItem("gpt-5.2-ultra", menu); ok {
		t.Error("matched despite missing token")
	}
}

func TestMatchModeItem(t *testing.T) {
	menu := items("Auto", "Instant", "Thinking", "Pro")

	tests := []struct {
		mode ModelMode
		want string
	}{
		{ModeAuto, "Auto"},
		{ModeInstant, "Instant"},
		{ModeThinking, "Thinking"},
		{ModePro, "Pro"},
	}
	for _, tt := range tests {
		it, ok := matchModeItem(tt.mode, menu)
		if !ok || it.Name != tt.want {
			t.Errorf("matchModeItem(%v) = %q/%t, want %q", tt.mode, it.Name, ok, tt.want)
		}
	}

	if _, ok := matchModeItem(ModelMode("turbo"), menu); ok {
		t.Error("unknown mode matched")
	}
}

func TestTokenConjunction(t *testing.T) {
	tests := []struct {
		model, label string
		want         bool
	}{
		{"gpt-5.2-flash", "5.2 Flash Preview", true},
		{"gpt-5.2-flash", "5.1 Flash", false},
		{"chatgpt", "Anything", false},
		{"gpt", "GPT", false},
		{"o3-mini-high", "o3-mini-high (legacy)", true},
	}
	for _, tt := range tests {
		if got := tokenConjunction(tt.model, tt.label); got != tt.want {
			t.Errorf("tokenConjunction(%q, %q) = %t, want %t", tt.model, tt.label, got, tt.want)
		}
	}
}
