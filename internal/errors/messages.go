package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/ariel-frischer/wxflow/internal/batch"
	"github.com/ariel-frischer/wxflow/internal/config"
	"github.com/ariel-frischer/wxflow/internal/driver"
	"github.com/ariel-frischer/wxflow/internal/engine"
	"github.com/ariel-frischer/wxflow/internal/realize"
	"github.com/ariel-frischer/wxflow/internal/stage"
)

// Common error messages for the wxflow CLI.
// These templates ensure consistent, actionable error messages.

// MissingConfigFile creates an error for a run without -c.
func MissingConfigFile(command string) *CLIError {
	return NewArgumentErrorWithUsage(
		"at least one config file is required",
		fmt.Sprintf("wxflow %s -c config.yaml [-c override.yaml]", command),
		"Pass the experiment configuration with -c",
		"Later -c files override keys of earlier ones",
	)
}

// InvalidCycle wraps a --cycle parse error.
func InvalidCycle(err error) *CLIError {
	return Wrap(err, Argument,
		"Use an ISO 8601 timestamp, e.g. --cycle 2024-05-05T12",
	)
}

// InvalidLeadtime wraps a --leadtime parse error.
func InvalidLeadtime(err error) *CLIError {
	return Wrap(err, Argument,
		"Use whole hours (6) or a duration (6h, 90m)",
	)
}

// LeadtimeWithoutCycle creates an error for --leadtime given alone.
func LeadtimeWithoutCycle() *CLIError {
	return NewArgumentError(
		"--leadtime requires --cycle",
		"Add --cycle with the forecast cycle the leadtime is relative to",
	)
}

// Classify maps err onto a CLIError. Errors already carrying a category are
// returned unchanged; unknown errors are runtime errors.
func Classify(err error) *CLIError {
	if err == nil {
		return nil
	}
	if cliErr := AsCLIError(err); cliErr != nil {
		return cliErr
	}

	var (
		parseErr      *realize.ParseError
		keyErr        *realize.KeyError
		unresolvedErr *realize.UnresolvedReferenceError
		cyclicRefErr  *realize.CyclicReferenceError
		exprErr       *realize.ExpressionError
		toolErr       *config.ValidationError
		sectionErr    *driver.SectionError
		taskErr       *driver.UnknownTaskError
		schedulerErr  *batch.UnknownSchedulerError
		serialErr     *stage.SerializationError
		cycleErr      *engine.CycleError
		missingErr    *engine.MissingRequirementError
		defErr        *engine.DefinitionError
	)

	switch {
	case stderrors.As(err, &taskErr):
		return Wrap(err, Argument, "List the available tasks with: wxflow tasks")
	case stderrors.As(err, &parseErr):
		return Wrap(err, Configuration,
			fmt.Sprintf("Fix the syntax of %s", parseErr.Source),
			"Config files must hold a YAML mapping at the top level",
		)
	case stderrors.As(err, &unresolvedErr):
		return Wrap(err, Configuration,
			fmt.Sprintf("Define the value referenced at %s", unresolvedErr.Location),
			"Pass --cycle and --leadtime if the expression uses cycle or leadtime",
		)
	case stderrors.As(err, &cyclicRefErr):
		return Wrap(err, Configuration,
			"Break the chain of references between the listed keys",
		)
	case stderrors.As(err, &exprErr):
		return Wrap(err, Configuration,
			"Expressions support dotted references, literals, arithmetic, comparisons and helper calls",
			"Quote literal {{ }} text that is not meant to be evaluated",
		)
	case stderrors.As(err, &keyErr):
		return Wrap(err, Configuration,
			fmt.Sprintf("Check that %q exists in the realized config: wxflow realize -c ...", keyErr.Path),
		)
	case stderrors.As(err, &toolErr):
		return Wrap(err, Configuration,
			"Check the wxflow settings: wxflow config show",
			"Valid keys: "+strings.Join(config.SortedKeys(), ", "),
		)
	case stderrors.As(err, &schedulerErr):
		return Wrap(err, Configuration,
			"Supported schedulers: "+strings.Join(batch.List(), ", "),
		)
	case stderrors.As(err, &sectionErr):
		return Wrap(err, Configuration,
			fmt.Sprintf("Fix the %q section of the experiment configuration", sectionErr.Component),
		)
	case stderrors.As(err, &serialErr):
		return Wrap(err, Configuration,
			fmt.Sprintf("The values of %s cannot be written as %s", serialErr.Path, serialErr.Format),
		)
	case stderrors.As(err, &cycleErr):
		return Wrap(err, Graph, "Remove one of the requirements along the cycle")
	case stderrors.As(err, &missingErr):
		return Wrap(err, Graph, fmt.Sprintf("Task %q lists an undeclared requirement", missingErr.Task))
	case stderrors.As(err, &defErr):
		return Wrap(err, Graph, "Run with --log-level debug to see the declarations")
	}
	return Wrap(err, Runtime)
}

// NotReady creates the error reported when evaluation finished without a
// ready root task.
func NotReady(task string, failed []string) *CLIError {
	remediation := []string{"Rerun with --log-level debug to see why each task is not ready"}
	if len(failed) > 0 {
		remediation = append([]string{"Failed tasks: " + strings.Join(failed, ", ")}, remediation...)
	}
	return NewRuntimeError(fmt.Sprintf("task %q is not ready", task), remediation...)
}

// ExitCode returns the process exit code for err. A nil error exits with
// ExitReady.
func ExitCode(err error) int {
	if err == nil {
		return ExitReady
	}
	return Classify(err).Category.ExitCode()
}
