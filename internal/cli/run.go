package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ariel-frischer/wxflow/internal/driver"
	"github.com/ariel-frischer/wxflow/internal/engine"
	clierrors "github.com/ariel-frischer/wxflow/internal/errors"
	"github.com/ariel-frischer/wxflow/internal/progress"
	"github.com/ariel-frischer/wxflow/internal/stage"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		exp      experimentFlags
		batch    bool
		showTree bool
	)

	cmd := &cobra.Command{
		Use:   "run COMPONENT TASK",
		Short: "Evaluate a task of a component",
		Long: `Realize the experiment configuration, then evaluate TASK of the COMPONENT
section as a task graph. Tasks whose outputs are already in place are
skipped, so running the same task again is cheap.

Run 'wxflow tasks' for the list of tasks.`,
		Example: `  # Provision the run directory
  wxflow run fv3 provisioned_rundir -c exp.yaml --cycle 2024050512

  # Run locally with up to 4 concurrent actions and keep the graph
  wxflow run fv3 run -c exp.yaml --cycle 2024050512 --max-parallel 4 --graph-file fv3.dot

  # Submit to the batch system described by execution.batchargs
  wxflow run fv3 run -c exp.yaml --cycle 2024050512 --batch`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			component, task := args[0], args[1]

			// Reject unknown task names before realizing anything.
			if !knownTask(task) {
				return &driver.UnknownTaskError{Name: task}
			}

			cfg, err := exp.realize("run")
			if err != nil {
				return err
			}

			stageOpts, err := stageOptions(opts)
			if err != nil {
				return err
			}
			driverOpts := []driver.Option{
				driver.WithStageOptions(stageOpts...),
				driver.WithRunTimeout(opts.settings.RunTimeout),
				driver.WithLogger(opts.logger),
			}
			if cmd.Flags().Changed("batch") {
				driverOpts = append(driverOpts, driver.WithBatch(batch))
			}

			d, err := driver.New(cfg, component, driverOpts...)
			if err != nil {
				return err
			}
			ref, err := d.Task(task)
			if err != nil {
				return err
			}

			ev := engine.New(
				engine.WithLogger(opts.logger),
				engine.WithMaxParallel(opts.settings.MaxParallel),
				engine.WithGraphFile(opts.settings.GraphFile),
			)

			spin := progress.NewSpinner(cmd.ErrOrStderr(), progress.DetectTerminalCapabilities(os.Stderr))
			spin.Start(fmt.Sprintf("evaluating %s %s", component, task))
			res, err := ev.Evaluate(cmd.Context(), ref)
			if res == nil {
				spin.Stop(false, fmt.Sprintf("%s %s rejected", component, task))
				return err
			}
			root := res.Root
			spin.Stop(root.Ready(), fmt.Sprintf("%s %s", root.Name, root.State))

			if showTree || !root.Ready() {
				fmt.Fprint(cmd.OutOrStdout(), res.Tree())
			}
			if err != nil {
				return err
			}
			if !root.Ready() {
				return clierrors.NotReady(root.Name, failedTasks(res))
			}
			return nil
		},
	}

	exp.register(cmd)
	cmd.Flags().BoolVar(&batch, "batch", false, "Submit with the scheduler from execution.batchargs instead of running locally")
	cmd.Flags().BoolVar(&showTree, "tree", false, "Print the evaluated task tree")
	cmd.Flags().String("graph-file", "", "Write the evaluated task graph in DOT format to this file")
	cmd.Flags().Int("max-parallel", 1, "Maximum number of task actions running at once")
	cmd.Flags().Duration("run-timeout", 0, "Time limit for a local run (0 means none)")
	return cmd
}

func knownTask(name string) bool {
	for _, t := range driver.Tasks {
		if t.Name == name {
			return true
		}
	}
	return false
}

// stageOptions translates the tool settings into stager options.
func stageOptions(opts *rootOptions) ([]stage.Option, error) {
	policy, err := stage.ParseSymlinkPolicy(opts.settings.SymlinkPolicy)
	if err != nil {
		return nil, clierrors.Wrap(err, clierrors.Configuration)
	}
	fallback, err := stage.ParseHardlinkFallback(opts.settings.HardlinkFallback)
	if err != nil {
		return nil, clierrors.Wrap(err, clierrors.Configuration)
	}
	return []stage.Option{
		stage.WithSymlinkPolicy(policy),
		stage.WithHardlinkFallback(fallback),
		stage.WithFsync(opts.settings.Fsync),
	}, nil
}

func failedTasks(res *engine.Result) []string {
	var names []string
	for _, n := range res.Nodes() {
		if n.State == engine.StateFailed {
			names = append(names, n.Name)
		}
	}
	return names
}
