package engine

import (
	"fmt"
	"strings"
)

// CycleError represents a cycle detected in task requirements.
type CycleError struct {
	// Path is the list of task names forming the cycle.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "cycle detected in task requirements"
	}
	return fmt.Sprintf("cycle detected in task requirements: %s", strings.Join(e.Path, " -> "))
}

// MissingRequirementError represents a requirement that was never declared
// (a zero Ref).
type MissingRequirementError struct {
	// Task is the name of the task listing the requirement.
	Task string
	// Index is the position of the requirement in the task's list.
	Index int
}

// Error implements the error interface.
func (e *MissingRequirementError) Error() string {
	return fmt.Sprintf("task %q: requirement %d is not a declared task", e.Task, e.Index)
}

// DefinitionError wraps a failure while evaluating a task declaration, such
// as a configuration key the task depends on being absent.
type DefinitionError struct {
	// Ref is the memoization identity of the failing declaration.
	Ref string
	// Parent is the name of the task that required it, empty for the root.
	Parent string
	Err    error
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	if e.Parent == "" {
		return fmt.Sprintf("declaring root task: %v", e.Err)
	}
	return fmt.Sprintf("declaring requirement of %q: %v", e.Parent, e.Err)
}

// Unwrap returns the underlying error.
func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// ActionError is recorded on a node whose action returned an error or panicked.
type ActionError struct {
	// Task is the name of the failed task.
	Task string
	// Chain lists task names from the root down to the failed task.
	Chain []string
	Err   error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	if len(e.Chain) > 1 {
		return fmt.Sprintf("task %q failed: %v (via %s)", e.Task, e.Err, strings.Join(e.Chain, " > "))
	}
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

// Unwrap returns the underlying error.
func (e *ActionError) Unwrap() error {
	return e.Err
}
