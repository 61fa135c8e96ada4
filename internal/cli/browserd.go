package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Microck/chatgpt-webui-mcp/internal/browserd"
)

var flagListen string

var browserdCmd = &cobra.Command{
	Use:   "browserd",
	Short: "Start the browser automation backend",
	Long: `Start the backend daemon that drives Chrome over CDP. Chrome must be
running with remote debugging enabled, e.g.:

  google-chrome --remote-debugging-port=9222

The daemon connects lazily, so start order does not matter.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagListen != "" {
			cfg.Browserd.Listen = flagListen
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return browserd.New(cfg).Run(ctx)
	},
}

func init() {
	browserdCmd.Flags().StringVar(&flagListen, "listen", "",
		"Listen address (default from config)")
}
