package cli

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/Microck/chatgpt-webui-mcp/internal/browser"
	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
	"github.com/Microck/chatgpt-webui-mcp/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start the MCP server. Tool traffic runs over stdio, so all logging
goes to stderr. The browser automation backend must be reachable at the
configured base URL (start it with 'chatgpt-webui-mcp browserd').`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		surface := browser.NewClient(cfg)
		api := chatgpt.NewAPIClient(cfg)
		runner := chatgpt.NewRunner(surface, api, cfg)

		srv, err := tools.New(cfg, runner, api, version)
		if err != nil {
			return err
		}

		log.Printf("[serve] mcp server starting (backend %s)", cfg.Browser.BaseURL)
		return srv.ServeStdio()
	},
}
