package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Microck/chatgpt-webui-mcp/internal/config"
)

var (
	// Global flags
	flagJSON    bool
	flagVerbose bool

	// Global config
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chatgpt-webui-mcp",
	Short: "MCP server that drives the ChatGPT web UI",
	Long: `chatgpt-webui-mcp answers prompts through the ChatGPT web interface
instead of the API: it drives a real browser session, watches the page
until the response settles, and exposes the whole flow as MCP tools.

Run 'serve' to start the MCP server on stdio and 'browserd' to start
the browser automation backend it talks to.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		// Auto-enable JSON when stdout is not a TTY, unless set explicitly.
		if !isTerminal(os.Stdout) && !cmd.Flags().Changed("json") {
			flagJSON = true
		}

		return nil
	},
	// Silence usage and errors - we handle our own error output
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false,
		"Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"Verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(browserdCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(browseCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// Helper to check if output is a terminal
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
