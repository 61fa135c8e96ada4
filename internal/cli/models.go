package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
)

type modelList struct {
	Models []chatgpt.Model `json:"models"`
}

func (m modelList) TextOutput() string {
	if len(m.Models) == 0 {
		return "No models available."
	}
	var b strings.Builder
	for _, model := range m.Models {
		fmt.Fprintf(&b, "%-24s %s\n", model.Slug, model.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available to the account",
	RunE: func(cmd *cobra.Command, args []string) error {
		api := chatgpt.NewAPIClient(cfg)
		models, err := api.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		return OutputResult(modelList{Models: models})
	},
}
