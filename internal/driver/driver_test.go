package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariel-frischer/wxflow/internal/engine"
	"github.com/ariel-frischer/wxflow/internal/logging"
	"github.com/ariel-frischer/wxflow/internal/realize"
)

const componentDoc = `
fv3:
  rundir: "%[1]s/run/{{ cycle.strftime('%%Y%%m%%d%%H') }}"
  files_to_copy:
    field_table: "%[1]s/fix/field_table"
    INPUT: "%[1]s/fix/oro/*.nc"
  files_to_link:
    co2.nc: "%[1]s/fix/co2.nc"
  files_to_hardlink:
    restart.nc: "%[1]s/restart/restart.nc"
  configs:
    model_configure.yaml:
      format: yaml
      values:
        nx: 96
        dt: 1.5
    env.sh:
      format: sh
      values:
        OMP_NUM_THREADS: 4
  execution:
    executable: "%[2]s"
    envcmds:
      - export WX_READY=1
    envvars:
      OMP_NUM_THREADS: 4
    batchargs:
      scheduler: slurm
      account: wx
      walltime: "00:10:00"
      cores: 4
`

var testCycle = time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)

// fixture writes the input files and returns the realized configuration.
func fixture(t *testing.T, executable string) (*realize.Config, string) {
	t.Helper()
	dir := t.TempDir()
	for path, content := range map[string]string{
		"fix/field_table":               "tracers",
		"fix/oro/C96_oro_data.tile1.nc": "tile1",
		"fix/oro/C96_oro_data.tile2.nc": "tile2",
		"fix/co2.nc":                    "co2",
		"restart/restart.nc":            "restart",
	} {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	raw, err := realize.LoadBytes([]byte(fmt.Sprintf(componentDoc, dir, executable)), "fv3.yaml")
	require.NoError(t, err)
	cycle := testCycle
	cfg, err := realize.Dereference(raw, realize.NewContext(&cycle, nil))
	require.NoError(t, err)
	return cfg, dir
}

// shell runs every command through sh and counts invocations.
func shell(calls *atomic.Int32, names *[]string) Option {
	return withCommand(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		calls.Add(1)
		if names != nil {
			*names = append(*names, name)
		}
		return exec.CommandContext(ctx, "sh", args...)
	})
}

func evaluate(t *testing.T, ref engine.Ref) *engine.Result {
	t.Helper()
	res, err := engine.New(engine.WithLogger(logging.Discard())).Evaluate(context.Background(), ref)
	require.NoError(t, err)
	return res
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestDriver_ProvisionedRundir(t *testing.T) {
	t.Parallel()

	cfg, dir := fixture(t, "./fv3.exe")
	d, err := New(cfg, "fv3")
	require.NoError(t, err)

	rundir := filepath.Join(dir, "run", "2024050512")
	assert.Equal(t, rundir, d.Rundir())

	res := evaluate(t, d.ProvisionedRundir())
	require.True(t, res.Root.Ready(), res.Tree())

	assert.Equal(t, "tracers", readFile(t, filepath.Join(rundir, "field_table")))
	assert.Equal(t, "tile1", readFile(t, filepath.Join(rundir, "INPUT", "C96_oro_data.tile1.nc")))
	assert.Equal(t, "tile2", readFile(t, filepath.Join(rundir, "INPUT", "C96_oro_data.tile2.nc")))

	target, err := os.Readlink(filepath.Join(rundir, "co2.nc"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fix", "co2.nc"), target)

	src, err := os.Stat(filepath.Join(dir, "restart", "restart.nc"))
	require.NoError(t, err)
	dst, err := os.Stat(filepath.Join(rundir, "restart.nc"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(src, dst))

	assert.Equal(t, "nx: 96\ndt: 1.5\n", readFile(t, filepath.Join(rundir, "model_configure.yaml")))
	assert.Equal(t, "OMP_NUM_THREADS='4'\n", readFile(t, filepath.Join(rundir, "env.sh")))

	names := make([]string, 0, len(res.Root.Requirements))
	for _, n := range res.Root.Requirements {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{
		"directory " + rundir,
		"fv3 files_copied",
		"fv3 files_linked",
		"fv3 files_hardlinked",
		"fv3 configs",
	}, names)
}

func TestDriver_ProvisionedRundirIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg, _ := fixture(t, "./fv3.exe")
	d, err := New(cfg, "fv3")
	require.NoError(t, err)

	require.True(t, evaluate(t, d.ProvisionedRundir()).Root.Ready())

	res := evaluate(t, d.ProvisionedRundir())
	require.True(t, res.Root.Ready())
	for _, n := range res.Nodes() {
		assert.NotEqual(t, engine.StateFailed, n.State, n.Name)
		if n.Kind == engine.KindTask {
			assert.Empty(t, n.Requirements, "%s should short-circuit", n.Name)
		}
	}
}

func TestDriver_Runscript(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		batch       bool
		contains    []string
		notContains []string
	}{
		"local": {
			contains:    []string{"export WX_READY=1\n", "export OMP_NUM_THREADS=4\n", "./fv3.exe\n"},
			notContains: []string{"#SBATCH"},
		},
		"batch": {
			batch: true,
			contains: []string{
				"#!/bin/bash\n#SBATCH --job-name=fv3\n#SBATCH --account=wx\n#SBATCH --ntasks=4\n#SBATCH --time=00:10:00\n",
				"./fv3.exe\n",
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg, _ := fixture(t, "./fv3.exe")
			d, err := New(cfg, "fv3", WithBatch(tt.batch))
			require.NoError(t, err)

			res := evaluate(t, d.Runscript())
			require.True(t, res.Root.Ready())

			content := readFile(t, d.RunscriptPath())
			for _, want := range tt.contains {
				assert.Contains(t, content, want)
			}
			for _, unwanted := range tt.notContains {
				assert.NotContains(t, content, unwanted)
			}
		})
	}
}

func TestDriver_RunLocal(t *testing.T) {
	t.Parallel()

	cfg, _ := fixture(t, "echo ran")
	var calls atomic.Int32
	d, err := New(cfg, "fv3", shell(&calls, nil))
	require.NoError(t, err)

	res := evaluate(t, d.Run())
	require.True(t, res.Root.Ready(), res.Tree())
	assert.FileExists(t, d.RunscriptPath()+".done")
	assert.Equal(t, int32(1), calls.Load())

	res = evaluate(t, d.Run())
	assert.True(t, res.Root.Ready())
	assert.Equal(t, int32(1), calls.Load(), "a finished run is not repeated")
}

func TestDriver_RunBatch(t *testing.T) {
	t.Parallel()

	cfg, _ := fixture(t, "./fv3.exe")
	var calls atomic.Int32
	var names []string
	submit := withCommand(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		calls.Add(1)
		names = append(names, name)
		return exec.CommandContext(ctx, "echo", "Submitted batch job 42")
	})
	d, err := New(cfg, "fv3", WithBatch(true), submit)
	require.NoError(t, err)

	res := evaluate(t, d.Run())

	require.True(t, res.Root.Ready(), res.Tree())
	assert.Equal(t, []string{"sbatch"}, names)
	assert.Equal(t, "Submitted batch job 42\n", readFile(t, d.SubmitPath()))
	assert.NoFileExists(t, d.RunscriptPath()+".done")
}

func TestDriver_RunFailures(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		executable string
		timeout    time.Duration
		wantErr    string
	}{
		"non-zero exit": {executable: "false", wantErr: "exit status 1"},
		"timeout":       {executable: "exec sleep 5", timeout: 100 * time.Millisecond, wantErr: "timed out after 100ms"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg, _ := fixture(t, tt.executable)
			var calls atomic.Int32
			d, err := New(cfg, "fv3", shell(&calls, nil), WithRunTimeout(tt.timeout))
			require.NoError(t, err)

			res := evaluate(t, d.Run())

			require.Equal(t, engine.StateFailed, res.Root.State)
			var actionErr *engine.ActionError
			require.ErrorAs(t, res.Root.Err, &actionErr)
			assert.Contains(t, actionErr.Error(), tt.wantErr)
			assert.NoFileExists(t, d.RunscriptPath()+".done")
		})
	}
}

func TestDriver_Task(t *testing.T) {
	t.Parallel()

	cfg, _ := fixture(t, "./fv3.exe")
	d, err := New(cfg, "fv3")
	require.NoError(t, err)

	for _, task := range Tasks {
		ref, err := d.Task(task.Name)
		require.NoError(t, err, task.Name)
		assert.False(t, ref.IsZero(), task.Name)
	}

	_, err = d.Task("post")
	var unknown *UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, err.Error(), "rundir, files_copied")
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		doc       string
		opts      []Option
		wantField string
		wantMsg   string
	}{
		"missing rundir": {
			doc:       "fv3:\n  execution: {executable: x}\n",
			wantField: "rundir",
			wantMsg:   "is required",
		},
		"missing executable": {
			doc:       "fv3:\n  rundir: /tmp/run\n",
			wantField: "execution.executable",
			wantMsg:   "is required",
		},
		"bad fallback": {
			doc:       "fv3:\n  rundir: /tmp/run\n  hardlink_fallback: symlink\n  execution: {executable: x}\n",
			wantField: "hardlink_fallback",
			wantMsg:   "must be one of: error, copy",
		},
		"config without format": {
			doc:       "fv3:\n  rundir: /tmp/run\n  configs:\n    a.yaml: {values: {x: 1}}\n  execution: {executable: x}\n",
			wantField: "configs[a.yaml].format",
			wantMsg:   "is required",
		},
		"unknown scheduler": {
			doc:       "fv3:\n  rundir: /tmp/run\n  execution:\n    executable: x\n    batchargs: {scheduler: lsf}\n",
			wantField: "execution.batchargs.scheduler",
			wantMsg:   `unknown scheduler "lsf"`,
		},
		"bad walltime": {
			doc:       "fv3:\n  rundir: /tmp/run\n  execution:\n    executable: x\n    batchargs: {scheduler: pbs, walltime: 2h}\n",
			wantField: "execution.batchargs",
			wantMsg:   "HH:MM:SS",
		},
		"batch without batchargs": {
			doc:       "fv3:\n  rundir: /tmp/run\n  execution: {executable: x}\n",
			opts:      []Option{WithBatch(true)},
			wantField: "execution.batchargs",
			wantMsg:   "required when batch is true",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg, err := realize.LoadBytes([]byte(tt.doc), "test.yaml")
			require.NoError(t, err)

			_, err = New(cfg, "fv3", tt.opts...)
			var sectionErr *SectionError
			require.ErrorAs(t, err, &sectionErr)
			assert.Equal(t, tt.wantField, sectionErr.Field)
			assert.Contains(t, sectionErr.Message, tt.wantMsg)
		})
	}
}

func TestNew_MissingComponent(t *testing.T) {
	t.Parallel()

	cfg, err := realize.LoadBytes([]byte("upp: {}\n"), "test.yaml")
	require.NoError(t, err)

	_, err = New(cfg, "fv3")
	var keyErr *realize.KeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, "fv3", keyErr.Key)
	assert.True(t, strings.Contains(err.Error(), "fv3"))
}
