package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// CLIResponse is the JSON envelope for command output.
type CLIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

// writeResult prints text in text mode and data inside a CLIResponse in json
// mode.
func writeResult(cmd *cobra.Command, opts *RootOptions, text string, data interface{}) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}
