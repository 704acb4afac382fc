// File: cmd/run.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

func newRunCommand() *cobra.Command {
	var tier string

	runCmd := &cobra.Command{
		Use:   "run <task description>",
		Short: "Generate, validate and review a plan for the given task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planTier := schemas.PlanTier(tier)
			switch planTier {
			case schemas.TierQuick, schemas.TierStandard, schemas.TierDeep, "":
			default:
				return fmt.Errorf("unknown tier %q; expected quick, standard or deep", tier)
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			task := strings.Join(args, " ")
			session, err := a.orch.StartSession(cmd.Context(), task, planTier)
			if err != nil {
				if session != nil {
					_ = reportOutcome(cmd, a, session)
				}
				return err
			}
			return reportOutcome(cmd, a, session)
		},
	}

	runCmd.Flags().StringVarP(&tier, "tier", "t", "", "planning effort: quick, standard or deep (default from config)")
	return runCmd
}
