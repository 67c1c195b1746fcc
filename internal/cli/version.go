package cli

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ariel-frischer/wxflow/internal/version"
)

func newVersionCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Display version information (v)",
		Long:    "Display version, commit, build date, and Go version information for wxflow",
		Example: `  # Show version info
  wxflow version

  # Plain output (for scripts)
  wxflow version --plain`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if plain {
				fmt.Fprintln(out, version.String())
				return nil
			}

			label := color.New(color.FgCyan, color.Bold).SprintFunc()
			info := []struct {
				label string
				value string
			}{
				{"Version", version.Version},
				{"Commit", version.Commit},
				{"Built", version.BuildDate},
				{"Go", runtime.Version()},
				{"Platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)},
			}
			for _, row := range info {
				fmt.Fprintf(out, "%s %s\n", label(fmt.Sprintf("%-9s", row.label+":")), row.value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Plain output without formatting")
	return cmd
}
