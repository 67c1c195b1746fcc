// Package batch renders job scheduler directives for runscripts and names
// the command that submits them.
package batch

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"
)

// Resources describes what a batch job asks the scheduler for. Zero values
// are omitted from the directives.
type Resources struct {
	Account  string `yaml:"account"`
	Queue    string `yaml:"queue"`
	Walltime string `yaml:"walltime" validate:"omitempty,walltime"`
	Nodes    int    `yaml:"nodes" validate:"min=0"`
	// Tasks is the number of MPI tasks per node.
	Tasks int `yaml:"tasks_per_node" validate:"min=0"`
	// Cores is the total core count, used when Nodes is not set.
	Cores   int    `yaml:"cores" validate:"min=0"`
	Memory  string `yaml:"memory"`
	JobName string `yaml:"jobname"`
	// Extra holds scheduler arguments written verbatim after the prefix,
	// e.g. "--exclusive" or "-l debug=true".
	Extra []string `yaml:"extra"`
}

// Scheduler renders directives for one batch system.
type Scheduler interface {
	// Name returns the scheduler name used in configuration.
	Name() string
	// Directives returns the directive lines for r, prefix included.
	Directives(r Resources) []string
	// SubmitCommand returns the command that submits a runscript.
	SubmitCommand() string
}

// UnknownSchedulerError is returned by For for an unsupported name.
type UnknownSchedulerError struct {
	Name string
}

func (e *UnknownSchedulerError) Error() string {
	return fmt.Sprintf("unknown scheduler %q; available: %v", e.Name, List())
}

var schedulers = map[string]func() Scheduler{
	"slurm": func() Scheduler { return NewSlurm() },
	"pbs":   func() Scheduler { return NewPBS() },
}

// For returns the scheduler registered under name.
func For(name string) (Scheduler, error) {
	newScheduler, ok := schedulers[name]
	if !ok {
		return nil, &UnknownSchedulerError{Name: name}
	}
	return newScheduler(), nil
}

// List returns the registered scheduler names in order.
func List() []string {
	names := make([]string, 0, len(schedulers))
	for name := range schedulers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var walltimePattern = regexp.MustCompile(`^\d+:[0-5]\d:[0-5]\d$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("walltime", func(fl validator.FieldLevel) bool {
		return walltimePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks r for malformed values.
func (r Resources) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "walltime":
			return fmt.Errorf("walltime %q must look like HH:MM:SS", fe.Value())
		case "min":
			return fmt.Errorf("%s must not be negative", fe.Field())
		}
	}
	return err
}

// base holds what the schedulers share: the directive prefix and the
// submit command.
type base struct {
	name   string
	prefix string
	submit string
}

func (b base) Name() string { return b.name }
func (b base) SubmitCommand() string { return b.submit }

func (b base) line(arg string) string {
	return b.prefix + " " + arg
}

func (b base) extra(r Resources) []string {
	lines := make([]string, 0, len(r.Extra))
	for _, arg := range r.Extra {
		lines = append(lines, b.line(arg))
	}
	return lines
}
