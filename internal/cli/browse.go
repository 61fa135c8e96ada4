package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Microck/chatgpt-webui-mcp/internal/browser"
)

// The browse commands are a debugging surface for the automation backend:
// one persistent tab per config home, driven step by step. The tab id is
// stored on disk so consecutive invocations hit the same session.

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Drive a backend tab by hand (debugging)",
	Long: `Low-level commands against the browser automation backend. Useful for
inspecting what the driver sees: open a page, dump the element snapshot,
click refs, type text.

The tab persists between invocations until 'browse close'.`,
	Example: `  chatgpt-webui-mcp browse open https://chatgpt.com
  chatgpt-webui-mcp browse snapshot
  chatgpt-webui-mcp browse click @e12
  chatgpt-webui-mcp browse type "#prompt-textarea" "hello"
  chatgpt-webui-mcp browse press Enter
  chatgpt-webui-mcp browse close`,
}

func tabStatePath() string {
	return filepath.Join(cfg.Home, "browse-tab")
}

// currentTab returns the saved tab id, opening a new tab when create is
// set and none is saved.
func currentTab(ctx context.Context, client *browser.Client, create bool) (string, error) {
	data, err := os.ReadFile(tabStatePath())
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !create {
		return "", NewUsageError("no open tab; run 'browse open <url>' first")
	}

	tabID, err := client.CreateTab(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.Home, 0700); err != nil {
		return "", err
	}
	if err := os.WriteFile(tabStatePath(), []byte(tabID), 0644); err != nil {
		return "", err
	}
	return tabID, nil
}

var browseOpenCmd = &cobra.Command{
	Use:   "open <url>",
	Short: "Navigate the tab to a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := browser.NewClient(cfg)
		tabID, err := currentTab(cmd.Context(), client, true)
		if err != nil {
			return err
		}
		if err := client.Navigate(cmd.Context(), tabID, args[0]); err != nil {
			return err
		}
		client.WaitIdle(cmd.Context(), tabID, 10*time.Second)
		fmt.Printf("tab %s at %s\n", tabID, args[0])
		return nil
	},
}

var browseSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Dump the tab's element snapshot (@e1, @e2, ...)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := browser.NewClient(cfg)
		tabID, err := currentTab(cmd.Context(), client, false)
		if err != nil {
			return err
		}
		snap, err := client.Snapshot(cmd.Context(), tabID)
		if err != nil {
			return err
		}
		if snap.URL != "" {
			fmt.Printf("# %s\n", snap.URL)
		}
		fmt.Println(snap.Text)
		if snap.Truncated {
			fmt.Fprintln(os.Stderr, "(snapshot truncated)")
		}
		return nil
	},
}

var browseClickCmd = &cobra.Command{
	Use:   "click <target>",
	Short: "Click an element by @eN ref or CSS selector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := browser.NewClient(cfg)
		tabID, err := currentTab(cmd.Context(), client, false)
		if err != nil {
			return err
		}
		return client.Click(cmd.Context(), tabID, args[0])
	},
}

var browseTypeCmd = &cobra.Command{
	Use:   "type <target> <text>",
	Short: "Type text into an element",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := browser.NewClient(cfg)
		tabID, err := currentTab(cmd.Context(), client, false)
		if err != nil {
			return err
		}
		return client.Type(cmd.Context(), tabID, args[0], args[1])
	},
}

var browsePressCmd = &cobra.Command{
	Use:   "press <key>",
	Short: "Send a keypress (Enter, Tab, Escape, ...)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := browser.NewClient(cfg)
		tabID, err := currentTab(cmd.Context(), client, false)
		if err != nil {
			return err
		}
		return client.Press(cmd.Context(), tabID, args[0])
	},
}

var browseScreenshotCmd = &cobra.Command{
	Use:   "screenshot [file]",
	Short: "Capture the tab as PNG (default: screenshot.png)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := browser.NewClient(cfg)
		tabID, err := currentTab(cmd.Context(), client, false)
		if err != nil {
			return err
		}
		data, err := client.Screenshot(cmd.Context(), tabID)
		if err != nil {
			return err
		}
		path := "screenshot.png"
		if len(args) == 1 {
			path = args[0]
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", path, len(data))
		return nil
	},
}

var browseWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream the tab's events (navigations, downloads)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := browser.NewClient(cfg)
		tabID, err := currentTab(cmd.Context(), client, false)
		if err != nil {
			return err
		}

		wsURL := strings.Replace(cfg.Browser.BaseURL, "http", "ws", 1) +
			"/v1/tabs/" + tabID + "/events"
		conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, nil)
		if err != nil {
			return fmt.Errorf("dial events: %w", err)
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			fmt.Println(string(msg))
		}
	},
}

var browseCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the persistent tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := browser.NewClient(cfg)
		tabID, err := currentTab(cmd.Context(), client, false)
		if err != nil {
			return err
		}
		if err := client.DeleteTab(cmd.Context(), tabID); err != nil {
			return err
		}
		return os.Remove(tabStatePath())
	},
}

func init() {
	browseCmd.AddCommand(browseOpenCmd)
	browseCmd.AddCommand(browseSnapshotCmd)
	browseCmd.AddCommand(browseClickCmd)
	browseCmd.AddCommand(browseTypeCmd)
	browseCmd.AddCommand(browsePressCmd)
	browseCmd.AddCommand(browseScreenshotCmd)
	browseCmd.AddCommand(browseWatchCmd)
	browseCmd.AddCommand(browseCloseCmd)
}
