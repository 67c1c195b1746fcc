package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	clierrors "github.com/ariel-frischer/wxflow/internal/errors"
	"github.com/ariel-frischer/wxflow/internal/logging"
	"github.com/ariel-frischer/wxflow/internal/realize"
)

func newRealizeCmd() *cobra.Command {
	var (
		exp     experimentFlags
		keyPath string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "realize",
		Short: "Print the realized experiment configuration",
		Long: `Load one or more experiment config files, merge them in order and resolve
every ${NAME} and {{ expression }} reference against the cycle, leadtime
and environment.

With --key-path only the value at that dotted path is printed. Mappings
and sequences are printed as YAML, scalars as plain text.`,
		Example: `  # Realize a layered configuration
  wxflow realize -c base.yaml -c exp.yaml --cycle 2024-05-05T12

  # Print a single value
  wxflow realize -c exp.yaml --cycle 2024050512 --leadtime 6 --key-path fv3.rundir

  # Write the result to a file
  wxflow realize -c exp.yaml -o realized.yaml`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := exp.realize("realize")
			if err != nil {
				return err
			}

			out, err := renderRealized(cfg, keyPath)
			if err != nil {
				return err
			}

			if output == "" {
				_, err := cmd.OutOrStdout().Write(out)
				return err
			}
			if err := os.WriteFile(output, out, 0o644); err != nil {
				return clierrors.WrapWithMessage(err, clierrors.Runtime, "cannot write realized config")
			}
			logging.FromContext(cmd.Context()).Info("wrote realized config", "path", output)
			return nil
		},
	}

	exp.register(cmd)
	cmd.Flags().StringVar(&keyPath, "key-path", "", "Dotted path of the value to print, e.g. fv3.namelist")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func renderRealized(cfg *realize.Config, keyPath string) ([]byte, error) {
	if keyPath == "" {
		return cfg.YAML()
	}

	v, err := cfg.Select(keyPath)
	if err != nil {
		return nil, err
	}
	switch v.(type) {
	case nil:
		return []byte("null\n"), nil
	case *realize.Map, []any:
		node, err := realize.ToNode(v)
		if err != nil {
			return nil, err
		}
		return yaml.Marshal(node)
	}
	s, err := realize.Stringify(v)
	if err != nil {
		return nil, err
	}
	return []byte(s + "\n"), nil
}

// noArgs rejects positional arguments with an argument error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return clierrors.NewArgumentErrorWithUsage(
			fmt.Sprintf("unexpected argument %q", args[0]),
			cmd.UseLine(),
		)
	}
	return nil
}

// exactArgs requires n positional arguments.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return clierrors.NewArgumentErrorWithUsage(
				fmt.Sprintf("%s expects %d argument(s), got %d", cmd.Name(), n, len(args)),
				cmd.UseLine(),
			)
		}
		return nil
	}
}
