package extract

import "testing"

const answeredPage = `@e1 [RootWebArea] "ChatGPT"
  @e2 [main]
    @e3 [heading] "You said:"
    @e4 [paragraph] "What is the capital of France?"
    @e5 [heading] "ChatGPT said:"
    @e6 [paragraph] "The capital of France is Paris."
    @e7 [button] "Copy"
    @e8 [button] "Good response"
`

func TestStructuredExtraction(t *testing.T) {
	got := Extract(answeredPage, "What is the capital of France?")
	want := "The capital of France is Paris."
	if got != want {
		t.Errorf("Extract = %q, want %q", got, want)
	}
}

func TestStructuredLastTurnWins(t *testing.T) {
	page := `@e1 [heading] "You said:"
@e2 [paragraph] "first question"
@e3 [heading] "ChatGPT said:"
@e4 [paragraph] "first answer"
@e5 [button] "Copy"
@e6 [heading] "You said:"
@e7 [paragraph] "second question"
@e8 [heading] "ChatGPT said:"
@e9 [paragraph] "second answer"
@e10 [button] "Copy"
`
	got := Extract(page, "second question")
	if got != "second answer" {
		t.Errorf("Extract = %q, want %q", got, "second answer")
	}
}

func TestStructuredBlocks(t *testing.T) {
	page := `@e1 [heading] "ChatGPT said:"
@e2 [heading] "Summary"
@e3 [paragraph] "Two steps are needed."
@e4 [listitem] "install it"
@e5 [listitem] "run it"
@e6 [code] "" value="make install"
@e7 [blockquote] "as the docs say"
@e8 [button] "Copy"
`
	got := Extract(page, "how do I install?")
	want := "## Summary\n\nTwo steps are needed.\n\n- install it\n\n- run it\n\n```\nmake install\n```\n\n> as the docs say"
	if got != want {
		t.Errorf("Extract =\n%q\nwant\n%q", got, want)
	}
}

func TestFallbackSkipsPromptEcho(t *testing.T) {
	page := `@e1 [paragraph] "Tell me a joke about compilers"
@e2 [paragraph] "Why did the compiler quit? It had too many unresolved issues."
`
	got := Extract(page, "Tell me a joke about compilers")
	want := "Why did the compiler quit? It had too many unresolved issues."
	if got != want {
		t.Errorf("Extract = %q, want %q", got, want)
	}
}

func TestOnlyEchoesYieldEmpty(t *testing.T) {
	page := `@e1 [paragraph] "Reply  exactly with OK"
@e2 [text] "reply exactly with ok"
`
	got := Extract(page, "Reply exactly with OK")
	if got != "" {
		t.Errorf("Extract = %q, want empty string", got)
	}
}

func TestFallbackFiltersChrome(t *testing.T) {
	page := `@e1 [paragraph] "the answer is 42"
@e2 [text] "ChatGPT can make mistakes. Check important info."
`
	got := Extract(page, "what is the answer?")
	if got != "the answer is 42" {
		t.Errorf("Extract = %q, want the real answer", got)
	}
}

func TestFallbackPrefersAfterLastEcho(t *testing.T) {
	page := `@e1 [paragraph] "stale earlier text"
@e2 [paragraph] "summarize the file"
@e3 [paragraph] "Here is the summary."
`
	got := Extract(page, "summarize the file")
	if got != "Here is the summary." {
		t.Errorf("Extract = %q, want text after the echo", got)
	}
}

func TestFallbackSkipsUserTurnRegion(t *testing.T) {
	page := `@e1 [heading] "You said:"
@e2 [paragraph] "some long pasted document that is not an echo match"
@e3 [heading] "Other"
@e4 [paragraph] "actual reply text"
`
	got := Extract(page, "summarize this")
	if got != "actual reply text" {
		t.Errorf("Extract = %q, want reply outside user region", got)
	}
}

func TestExtractIdempotent(t *testing.T) {
	first := Extract(answeredPage, "What is the capital of France?")
	second := Extract(answeredPage, "What is the capital of France?")
	if first != second {
		t.Errorf("extraction not idempotent: %q vs %q", first, second)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	if got := Extract("", "anything"); got != "" {
		t.Errorf("Extract on empty snapshot = %q, want empty", got)
	}
}

func TestEchoContainment(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		prompt    string
		echo      bool
	}{
		{"exact", "hello world", "hello world", true},
		{"whitespace", "hello   world", "hello world", true},
		{"rewrapped echo", "> hello world", "hello world", true},
		{"short overlap", "hello world and then a much longer unrelated continuation of text", "hello world", false},
		{"unrelated", "completely different", "hello world", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEcho(tt.candidate, tt.prompt, DefaultContainment); got != tt.echo {
				t.Errorf("isEcho(%q, %q) = %v, want %v", tt.candidate, tt.prompt, got, tt.echo)
			}
		})
	}
}
