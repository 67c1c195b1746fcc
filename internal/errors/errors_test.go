package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariel-frischer/wxflow/internal/batch"
	"github.com/ariel-frischer/wxflow/internal/config"
	"github.com/ariel-frischer/wxflow/internal/driver"
	"github.com/ariel-frischer/wxflow/internal/engine"
	"github.com/ariel-frischer/wxflow/internal/realize"
	"github.com/ariel-frischer/wxflow/internal/stage"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err      error
		category ErrorCategory
		exitCode int
	}{
		"parse error": {
			err:      &realize.ParseError{Source: "base.yaml", Line: 3, Column: 1, Message: "bad indent"},
			category: Configuration,
			exitCode: ExitConfiguration,
		},
		"unresolved reference": {
			err:      &realize.UnresolvedReferenceError{Location: "fv3.rundir", Expr: "cycle.hour", Reason: "no cycle"},
			category: Configuration,
			exitCode: ExitConfiguration,
		},
		"cyclic reference": {
			err:      &realize.CyclicReferenceError{Locations: []string{"a", "b"}, Passes: 4},
			category: Configuration,
			exitCode: ExitConfiguration,
		},
		"missing key wrapped": {
			err:      fmt.Errorf("loading driver: %w", &realize.KeyError{Path: "fv3", Key: "fv3"}),
			category: Configuration,
			exitCode: ExitConfiguration,
		},
		"tool config": {
			err:      &config.ValidationError{FilePath: "flag", Field: "max_parallel", Message: "must be positive"},
			category: Configuration,
			exitCode: ExitConfiguration,
		},
		"section": {
			err:      &driver.SectionError{Component: "fv3", Field: "rundir", Message: "is required"},
			category: Configuration,
			exitCode: ExitConfiguration,
		},
		"scheduler": {
			err:      &batch.UnknownSchedulerError{Name: "lsf"},
			category: Configuration,
			exitCode: ExitConfiguration,
		},
		"unknown task": {
			err:      &driver.UnknownTaskError{Name: "bake"},
			category: Argument,
			exitCode: ExitArguments,
		},
		"graph cycle": {
			err:      &engine.CycleError{Path: []string{"a", "b", "a"}},
			category: Graph,
			exitCode: ExitGraph,
		},
		"missing requirement": {
			err:      &engine.MissingRequirementError{Task: "a", Index: 1},
			category: Graph,
			exitCode: ExitGraph,
		},
		"definition": {
			err:      &engine.DefinitionError{Ref: "x", Err: stderrors.New("task has no name")},
			category: Graph,
			exitCode: ExitGraph,
		},
		"definition wrapping serialization": {
			err: &engine.DefinitionError{Ref: "x", Err: &stage.SerializationError{
				Path: "input.nml", Format: stage.FormatSh, Err: stderrors.New("nested value"),
			}},
			category: Configuration,
			exitCode: ExitConfiguration,
		},
		"plain": {
			err:      stderrors.New("disk full"),
			category: Runtime,
			exitCode: ExitNotReady,
		},
		"already classified": {
			err:      fmt.Errorf("cmd: %w", NewArgumentError("bad flag")),
			category: Argument,
			exitCode: ExitArguments,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := Classify(tc.err)
			require.NotNil(t, got)
			assert.Equal(t, tc.category, got.Category)
			assert.Equal(t, tc.exitCode, ExitCode(tc.err))
			assert.Contains(t, tc.err.Error(), got.Message)
		})
	}
}

func TestClassify_KeepsChain(t *testing.T) {
	t.Parallel()

	cause := &engine.CycleError{Path: []string{"a", "a"}}
	got := Classify(cause)

	var cycleErr *engine.CycleError
	assert.True(t, stderrors.As(got, &cycleErr))
	assert.Nil(t, Classify(nil))
	assert.Equal(t, ExitReady, ExitCode(nil))
}

func TestFormatErrorPlain(t *testing.T) {
	t.Parallel()

	err := NewArgumentErrorWithUsage("bad cycle", "wxflow run COMPONENT TASK", "Use --cycle 2024050512")

	want := "Error [Argument Error]: bad cycle\n" +
		"\n" +
		"Usage: wxflow run COMPONENT TASK\n" +
		"\n" +
		"To fix this:\n" +
		"  • Use --cycle 2024050512\n"
	assert.Equal(t, want, FormatErrorPlain(err))
	assert.Empty(t, FormatErrorPlain(nil))
}

func TestReport(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	code := Report(&buf, &engine.CycleError{Path: []string{"a", "b", "a"}})

	assert.Equal(t, ExitGraph, code)
	assert.Contains(t, buf.String(), "Task Graph Error")
	assert.Contains(t, buf.String(), "Remove one of the requirements")

	buf.Reset()
	assert.Equal(t, ExitReady, Report(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestNotReady(t *testing.T) {
	t.Parallel()

	err := NotReady("fv3 run", []string{"fv3 configs"})

	assert.Equal(t, Runtime, err.Category)
	assert.Equal(t, ExitNotReady, err.Category.ExitCode())
	assert.Equal(t, `task "fv3 run" is not ready`, err.Error())
	assert.Equal(t, "Failed tasks: fv3 configs", err.Remediation[0])
	assert.Len(t, NotReady("x", nil).Remediation, 1)
}

func TestErrorCategoryString(t *testing.T) {
	t.Parallel()

	names := map[ErrorCategory]string{
		Argument:          "Argument Error",
		Configuration:     "Configuration Error",
		Graph:             "Task Graph Error",
		Runtime:           "Runtime Error",
		ErrorCategory(99): "Error",
	}
	for c, want := range names {
		assert.Equal(t, want, c.String())
	}
}
