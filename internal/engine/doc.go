// Package engine evaluates task graphs with lazy, memoized and
// failure-isolating semantics.
//
// Tasks are declared through Refs whose DefineFunc yields a Definition:
// a name, the assets the task produces, its requirements and, for
// KindTask, an action. Evaluation runs in two phases. The whole
// declaration graph is resolved first, rejecting cycles and broken
// declarations before any action runs. Nodes are then evaluated from the
// root: a task whose assets are already ready is not re-run, requirements
// are evaluated in declaration order, and an action only runs once all of
// its requirements are ready. A failing action marks its node failed and
// leaves independent siblings unaffected.
//
// After evaluation the graph can be rendered as Graphviz DOT (Result.Graph)
// or as an ASCII tree (Result.Tree).
package engine
