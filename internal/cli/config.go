package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ariel-frischer/wxflow/internal/config"
	clierrors "github.com/ariel-frischer/wxflow/internal/errors"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize wxflow settings",
		Long: `Inspect and initialize the wxflow tool settings.

These settings tune how wxflow evaluates tasks (logging, parallelism,
staging behaviour). They are separate from the experiment configuration
passed with -c.`,
		Example: `  # List the known keys
  wxflow config keys

  # Show the effective settings
  wxflow config show

  # Write a commented project config
  wxflow config init --project`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newConfigKeysCmd(), newConfigShowCmd(opts), newConfigInitCmd())
	return cmd
}

func newConfigKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the known settings",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tTYPE\tDEFAULT\tDESCRIPTION")
			for _, key := range config.SortedKeys() {
				schema := config.KnownKeys[key]
				typ := schema.Type.String()
				if len(schema.AllowedValues) > 0 {
					typ = strings.Join(schema.AllowedValues, "|")
				}
				fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", key, typ, schema.Default, schema.Description)
			}
			return tw.Flush()
		},
	}
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, key := range config.SortedKeys() {
				value, err := opts.settings.Value(key)
				if err != nil {
					return err
				}
				if value == "" {
					value = `""`
				}
				fmt.Fprintf(out, "%s: %s\n", key, value)
			}
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var project, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file with the default settings",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ProjectConfigPath()
			if !project {
				userPath, err := config.UserConfigPath()
				if err != nil {
					return clierrors.WrapWithMessage(err, clierrors.Runtime, "cannot locate the user config directory")
				}
				path = userPath
			}

			if _, err := os.Stat(path); err == nil && !force {
				return clierrors.NewArgumentError(
					fmt.Sprintf("%s already exists", path),
					"Pass --force to overwrite it",
				)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return clierrors.WrapWithMessage(err, clierrors.Runtime, "cannot create config directory")
			}
			if err := os.WriteFile(path, []byte(config.GetDefaultConfigTemplate()), 0o644); err != nil {
				return clierrors.WrapWithMessage(err, clierrors.Runtime, "cannot write config file")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&project, "project", false, "Write .wxflow/config.yml in the current directory instead of the user config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
