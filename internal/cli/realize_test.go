package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clierrors "github.com/ariel-frischer/wxflow/internal/errors"
)

const baseDoc = `
experiment:
  name: demo
  dir: /scratch/{{ experiment.name }}
fv3:
  rundir: "{{ experiment.dir }}/{{ cycle.strftime('%Y%m%d%H') }}"
  nx: 96
  valid: "{{ valid_time.strftime('%Y%m%d%H') }}"
`

const overrideDoc = `
experiment:
  name: ctl
`

func experimentFiles(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return writeFile(t, filepath.Join(dir, "base.yaml"), baseDoc),
		writeFile(t, filepath.Join(dir, "exp.yaml"), overrideDoc)
}

func TestRealizeCmd(t *testing.T) {
	t.Parallel()

	base, exp := experimentFiles(t)

	tests := map[string]struct {
		args []string
		want string
	}{
		"scalar": {
			args: []string{"--key-path", "fv3.rundir"},
			want: "/scratch/ctl/2024050512\n",
		},
		"integer": {
			args: []string{"--key-path", "fv3.nx"},
			want: "96\n",
		},
		"valid time": {
			args: []string{"--key-path", "fv3.valid", "--leadtime", "6"},
			want: "2024050518\n",
		},
		"mapping": {
			args: []string{"--key-path", "experiment"},
			want: "name: ctl\ndir: /scratch/ctl\n",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			args := append([]string{"realize", "-c", base, "-c", exp, "--cycle", "2024-05-05T12"}, tt.args...)
			res := execute(t, args...)
			require.NoError(t, res.err)
			assert.Equal(t, tt.want, res.stdout)
		})
	}
}

func TestRealizeCmd_Document(t *testing.T) {
	t.Parallel()

	base, exp := experimentFiles(t)
	out := filepath.Join(t.TempDir(), "realized.yaml")

	res := execute(t, "realize", "-c", base, "-c", exp, "--cycle", "2024050512", "--leadtime", "6h", "-o", out)
	require.NoError(t, res.err)
	assert.Empty(t, res.stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: ctl")
	assert.Contains(t, string(data), "rundir: /scratch/ctl/2024050512")
	assert.Contains(t, string(data), "valid: \"2024050518\"")
	assert.NotContains(t, string(data), "{{")
}

func TestRealizeCmd_Errors(t *testing.T) {
	t.Parallel()

	base, _ := experimentFiles(t)
	dir := t.TempDir()
	broken := writeFile(t, filepath.Join(dir, "broken.yaml"), "fv3: [unclosed\n")

	tests := map[string]struct {
		args     []string
		wantCode int
	}{
		"no config": {
			args:     []string{"realize"},
			wantCode: clierrors.ExitArguments,
		},
		"bad cycle": {
			args:     []string{"realize", "-c", base, "--cycle", "yesterday"},
			wantCode: clierrors.ExitArguments,
		},
		"leadtime without cycle": {
			args:     []string{"realize", "-c", base, "--leadtime", "6"},
			wantCode: clierrors.ExitArguments,
		},
		"bad leadtime": {
			args:     []string{"realize", "-c", base, "--cycle", "2024050512", "--leadtime", "soon"},
			wantCode: clierrors.ExitArguments,
		},
		"missing file": {
			args:     []string{"realize", "-c", filepath.Join(dir, "nope.yaml")},
			wantCode: clierrors.ExitConfiguration,
		},
		"malformed file": {
			args:     []string{"realize", "-c", broken},
			wantCode: clierrors.ExitConfiguration,
		},
		"cycle needed but absent": {
			args:     []string{"realize", "-c", base},
			wantCode: clierrors.ExitConfiguration,
		},
		"missing key": {
			args:     []string{"realize", "-c", base, "--cycle", "2024050512", "--leadtime", "0", "--key-path", "fv3.ny"},
			wantCode: clierrors.ExitConfiguration,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			res := execute(t, tt.args...)
			require.Error(t, res.err)
			assert.Equal(t, tt.wantCode, res.exitCode(), "err: %v", res.err)
		})
	}
}
