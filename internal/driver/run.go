package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ariel-frischer/wxflow/internal/batch"
	"github.com/ariel-frischer/wxflow/internal/engine"
	"github.com/ariel-frischer/wxflow/internal/stage"
)

// SubmitPath returns the file holding the scheduler's answer to a batch
// submission.
func (d *Driver) SubmitPath() string {
	return d.RunscriptPath() + ".submit"
}

// Run executes the runscript in the run directory, or submits it when batch
// mode is on. Locally the task is ready once the runscript has touched its
// done marker; in batch mode once the submission has been recorded.
func (d *Driver) Run() engine.Ref {
	return d.ref(TaskRun, func() (engine.Definition, error) {
		var (
			marker string
			action engine.Action
		)
		if d.batch {
			sched, err := batch.For(d.section.Execution.Batchargs.Scheduler)
			if err != nil {
				return engine.Definition{}, err
			}
			marker = d.SubmitPath()
			action = func(ctx context.Context) error { return d.submit(ctx, sched) }
		} else {
			marker = stage.DoneMarker(d.RunscriptPath())
			action = d.runLocal
		}

		asset := engine.NewAsset(marker, func() bool {
			_, err := os.Stat(marker)
			return err == nil
		})
		requires := engine.Requires(d.ProvisionedRundir(), d.Runscript())
		return engine.Task(d.taskName(TaskRun), []engine.Asset{asset}, requires, action), nil
	})
}

func (d *Driver) runLocal(ctx context.Context) error {
	if d.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.runTimeout)
		defer cancel()
	}

	script := d.RunscriptPath()
	cmd := d.command(ctx, "bash", script)
	cmd.Dir = d.section.Rundir
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	d.logger.Info("running runscript", slog.String("path", script))
	start := time.Now()
	err := cmd.Run()
	d.logger.Debug("runscript output", slog.String("output", out.String()))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("runscript %s timed out after %s", script, d.runTimeout)
		}
		return fmt.Errorf("runscript %s: %w", script, err)
	}
	d.logger.Info("runscript finished",
		slog.String("path", script),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (d *Driver) submit(ctx context.Context, sched batch.Scheduler) error {
	script := d.RunscriptPath()
	cmd := d.command(ctx, sched.SubmitCommand(), script)
	cmd.Dir = d.section.Rundir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", sched.SubmitCommand(), script, err, bytes.TrimSpace(out))
	}
	if err := os.WriteFile(d.SubmitPath(), out, 0o644); err != nil {
		return fmt.Errorf("recording submission: %w", err)
	}
	d.logger.Info("submitted runscript",
		slog.String("scheduler", sched.Name()),
		slog.String("output", string(bytes.TrimSpace(out))),
	)
	return nil
}
