// File: cmd/resume.go
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id> <answer>",
		Short: "Answer a paused session's question and continue planning",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sessionID := args[0]
			answer := strings.Join(args[1:], " ")

			session, err := a.orch.Resume(cmd.Context(), sessionID, answer)
			if err != nil {
				if session != nil {
					_ = reportOutcome(cmd, a, session)
				}
				return err
			}
			return reportOutcome(cmd, a, session)
		},
	}
}
