// File: cmd/status.go
package cmd

import (
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show one session, or list all sessions when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				session, err := a.orch.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Session:    %s\nTask:       %s\nState:      %s\nIterations: %d\nTokens:     %d\n",
					session.ID, session.Task, session.State,
					session.Guardrails.Iterations, session.Guardrails.TotalTokens)
				if session.StateDetail != "" {
					cmd.Printf("Detail:     %s\n", session.StateDetail)
				}
				for _, rec := range session.History {
					if rec.Review != nil {
						cmd.Printf("  iter %d: viability %.2f, review %.2f, outcome %s\n",
							rec.Iteration, rec.Viability.Score, rec.Review.Score, rec.Outcome)
					} else {
						cmd.Printf("  iter %d: viability %.2f, outcome %s\n",
							rec.Iteration, rec.Viability.Score, rec.Outcome)
					}
				}
				return nil
			}

			summaries, err := a.orch.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				cmd.Println("No sessions.")
				return nil
			}
			for _, s := range summaries {
				cmd.Printf("%s  %-12s  iter %d  %s\n", s.ID, s.State, s.Iterations, s.Task)
			}
			return nil
		},
	}
}
