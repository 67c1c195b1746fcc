package engine

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
)

// Kind classifies a task declaration.
type Kind int

const (
	// KindExternal declares a pre-existing input. It has no action and no
	// requirements; its assets must already be ready.
	KindExternal Kind = iota
	// KindTask produces assets by running an action once all requirements
	// are ready.
	KindTask
	// KindTasks is a pure aggregator. It is ready when all of its
	// requirements are ready.
	KindTasks
)

// String returns the declaration marker name.
func (k Kind) String() string {
	switch k {
	case KindExternal:
		return "external"
	case KindTask:
		return "task"
	case KindTasks:
		return "tasks"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is the per-evaluation state of a node.
type State int

const (
	StatePending State = iota
	StateRunning
	StateReady
	StateNotReady
	StateFailed
)

// String returns the state as shown in logs and graph traces.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateNotReady:
		return "not-ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateReady || s == StateNotReady || s == StateFailed
}

// Asset is an observable output of a task: an identity (usually a path)
// and a side-effect-free readiness predicate.
type Asset struct {
	ID    any
	Ready func() bool
}

// NewAsset builds an asset. A nil ready predicate is never ready.
func NewAsset(id any, ready func() bool) Asset {
	if ready == nil {
		ready = func() bool { return false }
	}
	return Asset{ID: id, Ready: ready}
}

// String formats the asset identity.
func (a Asset) String() string {
	return fmt.Sprint(a.ID)
}

// Action is the side-effecting body of a task.
type Action func(ctx context.Context) error

// Definition is the result of evaluating a task declaration: its name, its
// assets, its requirements and, for KindTask, its action.
type Definition struct {
	Name     string
	Kind     Kind
	Assets   []Asset
	Requires func() []Ref
	Action   Action
}

// DefineFunc produces a task definition. It must be side-effect free: it
// may allocate and read configuration but must not touch the filesystem,
// because it runs even when the task turns out to be ready.
type DefineFunc func() (Definition, error)

// Ref is a handle to a task declaration. Two refs with the same identity
// evaluate to the same node within one evaluation.
type Ref struct {
	id     string
	define DefineFunc
}

// NewRef declares a task. fn identifies the declaring function (or is a
// string naming it) and args are its arguments; together they form the
// memoization identity. args should be plain values since they are
// compared through their Go-syntax representation.
func NewRef(fn any, args []any, define DefineFunc) Ref {
	return Ref{id: identity(fn, args), define: define}
}

// ID returns the memoization identity of the declaration.
func (r Ref) ID() string {
	return r.id
}

// IsZero reports whether r was never declared.
func (r Ref) IsZero() bool {
	return r.define == nil
}

func identity(fn any, args []any) string {
	var name string
	switch f := fn.(type) {
	case string:
		name = f
	case nil:
		name = "<nil>"
	default:
		v := reflect.ValueOf(fn)
		if v.Kind() == reflect.Func {
			if rf := runtime.FuncForPC(v.Pointer()); rf != nil {
				name = rf.Name()
				break
			}
		}
		name = fmt.Sprintf("%T", fn)
	}
	if args == nil {
		args = []any{}
	}
	return name + fmt.Sprintf("%#v", args)
}

// External builds the definition of a pre-existing input.
func External(name string, assets ...Asset) Definition {
	return Definition{Name: name, Kind: KindExternal, Assets: assets}
}

// Task builds the definition of an asset-producing task.
func Task(name string, assets []Asset, requires func() []Ref, action Action) Definition {
	return Definition{Name: name, Kind: KindTask, Assets: assets, Requires: requires, Action: action}
}

// Tasks builds the definition of an aggregator.
func Tasks(name string, requires func() []Ref) Definition {
	return Definition{Name: name, Kind: KindTasks, Requires: requires}
}

// Requires wraps a static list of requirements.
func Requires(refs ...Ref) func() []Ref {
	return func() []Ref { return refs }
}
