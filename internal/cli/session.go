package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
)

type sessionInfo struct {
	Authenticated bool   `json:"authenticated"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	Expires       string `json:"expires,omitempty"`
	Workspace     string `json:"workspace,omitempty"`
}

func (s sessionInfo) TextOutput() string {
	if !s.Authenticated {
		return "Not authenticated. Run 'chatgpt-webui-mcp login' to set a session token."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Authenticated as %s (%s)\n", s.Name, s.Email)
	fmt.Fprintf(&b, "Session expires: %s", s.Expires)
	if s.Workspace != "" {
		fmt.Fprintf(&b, "\nWorkspace: %s", s.Workspace)
	}
	return b.String()
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the current ChatGPT session",
	RunE: func(cmd *cobra.Command, args []string) error {
		api := chatgpt.NewAPIClient(cfg)
		sess, err := api.GetSession(cmd.Context())
		if err != nil {
			if chatgpt.KindOf(err) == chatgpt.KindConfig || chatgpt.KindOf(err) == chatgpt.KindSessionExpired {
				return OutputResult(sessionInfo{Authenticated: false})
			}
			return err
		}
		return OutputResult(sessionInfo{
			Authenticated: true,
			Name:          sess.User.Name,
			Email:         sess.User.Email,
			Expires:       sess.Expires,
			Workspace:     cfg.ChatGPT.Workspace,
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a ChatGPT session token",
	Long: `Store the __Secure-next-auth.session-token cookie value in the config
file. Copy it from the browser's devtools (Application > Cookies on
chatgpt.com) while logged in.

The token is read from stdin without echo. It can also reference an
environment variable as ${VAR} to keep the file secret-free.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken()
		if err != nil {
			return err
		}
		if token == "" {
			return NewUsageError("empty token")
		}

		cfg.ChatGPT.SessionToken = token
		if err := cfg.Save(); err != nil {
			return err
		}

		// Verify the token before declaring success, unless it is an
		// unresolvable ${VAR} reference.
		if cfg.GetSessionToken() != "" {
			api := chatgpt.NewAPIClient(cfg)
			sess, err := api.GetSession(cmd.Context())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: token saved but verification failed: %v\n", err)
				return nil
			}
			fmt.Printf("Logged in as %s (%s)\n", sess.User.Name, sess.User.Email)
			return nil
		}

		fmt.Println("Token reference saved.")
		return nil
	},
}

// readToken reads the session token without echoing when stdin is a
// terminal, and falls back to a plain line read when piped.
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Session token: ")
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
