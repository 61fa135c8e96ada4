package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Microck/chatgpt-webui-mcp/internal/browser"
	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
)

var (
	flagAskModel        string
	flagAskMode         string
	flagAskEffort       string
	flagAskResearch     bool
	flagAskImage        bool
	flagAskWaitMs       int
	flagAskWorkspace    string
	flagAskConversation string
)

// askResult wraps the run outcome for CLI output.
type askResult struct {
	*chatgpt.Result
	Report *chatgpt.Report `json:"report,omitempty"`
}

func (a askResult) TextOutput() string {
	var b strings.Builder
	b.WriteString(a.Text)
	if a.ConversationID != "" {
		fmt.Fprintf(&b, "\n\n(conversation: %s)", a.ConversationID)
	}
	for _, url := range a.ImageURLs {
		fmt.Fprintf(&b, "\n(image: %s)", url)
	}
	return b.String()
}

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Ask ChatGPT one prompt and wait for the answer",
	Long: `Send one prompt through the web UI and print the settled response.
This is the same flow the MCP 'ask' tool runs, exposed for scripting
and debugging. The backend daemon must be running.`,
	Example: `  chatgpt-webui-mcp ask "What is the capital of France?"
  chatgpt-webui-mcp ask --model gpt-4o --effort extended "Prove it."
  chatgpt-webui-mcp ask --research "State of WASM GC in 2026"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		req := &chatgpt.Request{
			Prompt:          args[0],
			ModelOverride:   flagAskModel,
			ModelMode:       chatgpt.ModelMode(flagAskMode),
			ReasoningEffort: chatgpt.ReasoningEffort(flagAskEffort),
			DeepResearch:    flagAskResearch,
			CreateImage:     flagAskImage,
			WaitTimeoutMs:   flagAskWaitMs,
			Workspace:       flagAskWorkspace,
			ConversationID:  flagAskConversation,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		surface := browser.NewClient(cfg)
		api := chatgpt.NewAPIClient(cfg)
		runner := chatgpt.NewRunner(surface, api, cfg)

		result, report, err := runner.Run(ctx, req)
		if err != nil {
			return err
		}

		out := askResult{Result: result}
		if flagVerbose {
			out.Report = report
		}
		return OutputResult(out)
	},
}

func init() {
	askCmd.Flags().StringVar(&flagAskModel, "model", "", "Model slug override (e.g. gpt-4o)")
	askCmd.Flags().StringVar(&flagAskMode, "mode", "", "Model mode: auto, instant, thinking, pro")
	askCmd.Flags().StringVar(&flagAskEffort, "effort", "", "Reasoning effort: standard, extended")
	askCmd.Flags().BoolVar(&flagAskResearch, "research", false, "Run as deep research")
	askCmd.Flags().BoolVar(&flagAskImage, "image", false, "Request image generation")
	askCmd.Flags().IntVar(&flagAskWaitMs, "wait", 0, "Wait budget in milliseconds (default from config)")
	askCmd.Flags().StringVar(&flagAskWorkspace, "workspace", "", "Workspace to resolve on the account picker")
	askCmd.Flags().StringVar(&flagAskConversation, "conversation", "", "Continue an existing conversation id")
}
