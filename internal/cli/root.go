// Package cli implements the wxflow command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ariel-frischer/wxflow/internal/config"
	clierrors "github.com/ariel-frischer/wxflow/internal/errors"
	"github.com/ariel-frischer/wxflow/internal/health"
	"github.com/ariel-frischer/wxflow/internal/logging"
	"github.com/ariel-frischer/wxflow/internal/telemetry"
	"github.com/ariel-frischer/wxflow/internal/version"
)

// flagKeys maps command-line flags onto tool configuration keys. A flag
// only overrides its key when it was set explicitly.
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"log-format":   "log_format",
	"max-parallel": "max_parallel",
	"graph-file":   "graph_file",
	"run-timeout":  "run_timeout",
}

// rootOptions is the state shared by all commands of one invocation.
type rootOptions struct {
	traceFile   string
	loadOptions config.LoadOptions

	settings *config.Configuration
	logger   *slog.Logger
	closers  []func(context.Context) error
}

func (o *rootOptions) close(ctx context.Context) error {
	var first error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	o.closers = nil
	return first
}

// Execute runs the wxflow command line and returns the process exit code.
func Execute() int {
	cmd, opts := newRootCmd()
	ctx := context.Background()
	err := cmd.ExecuteContext(ctx)
	if closeErr := opts.close(ctx); closeErr != nil && err == nil {
		err = fmt.Errorf("flushing trace file: %w", closeErr)
	}
	return clierrors.Report(os.Stderr, err)
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "wxflow",
		Short: "Realize NWP configurations and evaluate component task graphs",
		Long: `wxflow realizes layered YAML experiment configurations for numerical
weather prediction components and provisions their run directories by
evaluating idempotent task graphs.

Tool settings are loaded with the following priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (WXFLOW_*)
  3. Project config (.wxflow/config.yml)
  4. User config (~/.config/wxflow/config.yml)
  5. Built-in defaults

Exit codes:
  0  the requested task is ready
  1  the requested task is not ready
  2  configuration error
  3  invalid arguments
  4  task graph error`,
		Example: `  # Show the realized configuration for a cycle
  wxflow realize -c base.yaml -c exp.yaml --cycle 2024-05-05T12

  # Provision the run directory of the fv3 component
  wxflow run fv3 provisioned_rundir -c exp.yaml --cycle 2024050512

  # Submit the component to the batch system
  wxflow run fv3 run -c exp.yaml --cycle 2024050512 --batch`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return clierrors.NewArgumentError(
					fmt.Sprintf("unknown command %q", args[0]),
					"Run 'wxflow --help' for the list of commands",
				)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	cmd.PersistentFlags().StringVar(&opts.traceFile, "trace-file", "", "Write OpenTelemetry spans as JSON to this file")

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return clierrors.NewArgumentErrorWithUsage(err.Error(), c.UseLine(),
			fmt.Sprintf("Run '%s --help' for the accepted flags", c.CommandPath()),
		)
	})

	cmd.AddCommand(
		newRealizeCmd(),
		newRunCmd(opts),
		newTasksCmd(),
		newConfigCmd(opts),
		newVersionCmd(),
		newDoctorCmd(health.NewChecker()),
	)
	return cmd, opts
}

// setup loads the tool configuration and installs the logger and, when
// requested, the span exporter.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	loadOpts := o.loadOptions
	loadOpts.Overrides = flagOverrides(cmd)
	if loadOpts.WarningWriter == nil {
		loadOpts.WarningWriter = cmd.ErrOrStderr()
	}

	settings, err := config.LoadWithOptions(loadOpts)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) && verr.FilePath == string(config.SourceFlag) {
			return clierrors.Wrap(err, clierrors.Argument, "Run 'wxflow config keys' for the accepted values")
		}
		return err
	}
	o.settings = settings

	logger, err := logging.New(settings.LogLevel, settings.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return clierrors.Wrap(err, clierrors.Configuration)
	}
	o.logger = logger
	ctx := logging.WithLogger(cmd.Context(), logger)

	if o.traceFile != "" {
		f, err := os.Create(o.traceFile)
		if err != nil {
			return clierrors.WrapWithMessage(err, clierrors.Argument, "cannot create trace file")
		}
		shutdown, err := telemetry.Setup(ctx, f, version.Version)
		if err != nil {
			f.Close()
			return err
		}
		o.closers = append(o.closers,
			func(context.Context) error { return f.Close() },
			shutdown,
		)
	}

	cmd.SetContext(ctx)
	return nil
}

func flagOverrides(cmd *cobra.Command) map[string]string {
	overrides := make(map[string]string)
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			overrides[key] = f.Value.String()
		}
	}
	return overrides
}
