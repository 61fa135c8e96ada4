package tools

import (
	"testing"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
)

func TestFill(t *testing.T) {
	tests := []struct {
		name         string
		instructions string
		in           chatgpt.Request
		want         chatgpt.Request
	}{
		{
			"empty instructions",
			"",
			chatgpt.Request{Prompt: "hi"},
			chatgpt.Request{Prompt: "hi"},
		},
		{
			"deep research",
			"do deep research on this and search the web",
			chatgpt.Request{Prompt: "hi"},
			chatgpt.Request{Prompt: "hi", DeepResearch: true, DeepResearchSiteMode: chatgpt.SiteModeSearchWeb},
		},
		{
			"image intent",
			"please generate an image of a lighthouse",
			chatgpt.Request{Prompt: "hi"},
			chatgpt.Request{Prompt: "hi", CreateImage: true},
		},
		{
			"model slug",
			"answer using gpt-5.1-thinking please",
			chatgpt.Request{Prompt: "hi"},
			chatgpt.Request{Prompt: "hi", ModelOverride: "gpt-5.1-thinking"},
		},
		{
			"explicit model wins",
			"answer using gpt-5.1-thinking please",
			chatgpt.Request{Prompt: "hi", ModelOverride: "gpt-4o"},
			chatgpt.Request{Prompt: "hi", ModelOverride: "gpt-4o"},
		},
		{
			"extended effort",
			"think longer about this",
			chatgpt.Request{Prompt: "hi"},
			chatgpt.Request{Prompt: "hi", ReasoningEffort: chatgpt.EffortExtended},
		},
		{
			"standard effort",
			"think about this carefully",
			chatgpt.Request{Prompt: "hi"},
			chatgpt.Request{Prompt: "hi", ReasoningEffort: chatgpt.EffortStandard},
		},
		{
			"pro mode",
			"use pro mode for this one",
			chatgpt.Request{Prompt: "hi"},
			chatgpt.Request{Prompt: "hi", ModelMode: chatgpt.ModePro},
		},
		{
			"research beats image",
			"deep research whether to generate an image",
			chatgpt.Request{Prompt: "hi"},
			chatgpt.Request{Prompt: "hi", DeepResearch: true},
		},
		{
			"specific sites scope",
			"deep research on specific sites",
			chatgpt.Request{Prompt: "hi"},
			chatgpt.Request{Prompt: "hi", DeepResearch: true, DeepResearchSiteMode: chatgpt.SiteModeSpecificSites},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.in
			Fill(&req, tt.instructions)
			if req != tt.want {
				t.Errorf("Fill result = %+v, want %+v", req, tt.want)
			}
		})
	}
}
