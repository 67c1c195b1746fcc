package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_Graph(t *testing.T) {
	t.Parallel()

	w := newWorld()
	shared := w.task("shared")
	root := w.tasks("root", w.task("t1", shared), w.task("t2", shared))

	res := evaluate(t, root)

	want := `digraph wxflow {
  node [shape=box, style=filled];
  n0 [label="root\nready", fillcolor=palegreen];
  n1 [label="t1\nready", fillcolor=palegreen];
  n2 [label="shared\nready", fillcolor=palegreen];
  n3 [label="t2\nready", fillcolor=palegreen];
  n0 -> n1;
  n0 -> n3;
  n1 -> n2;
  n3 -> n2;
}
`
	assert.Equal(t, want, res.Graph())
}

func TestResult_GraphStates(t *testing.T) {
	t.Parallel()

	w := newWorld()
	longErr := errors.New(`cannot open "namelist": ` + strings.Repeat("x", 100))
	root := w.tasks("root",
		w.taskWith("broken", func(context.Context) error { return longErr }),
		w.task("blocked", w.external("missing.nc")),
	)

	graph := evaluate(t, root).Graph()

	assert.Contains(t, graph, `n0 [label="root\nnot-ready", fillcolor=orange];`)
	assert.Contains(t, graph, `label="broken\nfailed\ncannot open \"namelist\": xxx`)
	assert.Contains(t, graph, `...", fillcolor=tomato];`)
	assert.Contains(t, graph, `[label="missing.nc\nnot-ready", fillcolor=orange];`)
	assert.NotContains(t, graph, strings.Repeat("x", 100))
}

func TestResult_Tree(t *testing.T) {
	t.Parallel()

	w := newWorld("input")
	shared := w.task("rundir")
	root := w.tasks("provisioned",
		w.task("namelist", shared),
		w.task("link", shared, w.external("input")),
	)

	tree := evaluate(t, root).Tree()

	want := `provisioned [ready] (tasks)
|- namelist [ready]
|  +- rundir [ready]
+- link [ready]
   |- rundir [ready] *
   +- input [ready] (external)

Tasks: 5  |  ready: 5  not-ready: 0  failed: 0
`
	assert.Equal(t, want, tree)
}

func TestResult_TreeEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "No tasks were evaluated.", (&Result{}).Tree())
}

func TestStateAndKindStrings(t *testing.T) {
	t.Parallel()

	states := map[State]string{
		StatePending:  "pending",
		StateRunning:  "running",
		StateReady:    "ready",
		StateNotReady: "not-ready",
		StateFailed:   "failed",
		State(42):     "state(42)",
	}
	for s, want := range states {
		assert.Equal(t, want, s.String())
	}
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())

	assert.Equal(t, "external", KindExternal.String())
	assert.Equal(t, "task", KindTask.String())
	assert.Equal(t, "tasks", KindTasks.String())
}
