package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	clierrors "github.com/ariel-frischer/wxflow/internal/errors"
	"github.com/ariel-frischer/wxflow/internal/health"
)

func newDoctorCmd(checker *health.Checker) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that runscripts can be executed and submitted",
		Long: `Check the external tools wxflow relies on: bash for local runs and the
submit command of each supported scheduler. The user and project tool
config files are checked for YAML syntax errors.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := checker.RunHealthChecks()
			fmt.Fprint(cmd.OutOrStdout(), health.FormatReport(report))
			if !report.Passed {
				return clierrors.NewRuntimeError("health checks failed")
			}
			return nil
		},
	}
}
