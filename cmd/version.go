// File: cmd/version.go
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/xkilldash9x/planforge-cli/cmd.Version=...".
var Version = "0.1.0"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the planforge version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(Version)
		},
	}
}
