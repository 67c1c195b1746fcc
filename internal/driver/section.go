package driver

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ariel-frischer/wxflow/internal/batch"
	"github.com/ariel-frischer/wxflow/internal/realize"
)

// Section is the decoded configuration of one component.
type Section struct {
	Rundir           string                `yaml:"rundir" validate:"required"`
	FilesToCopy      map[string]string     `yaml:"files_to_copy"`
	FilesToLink      map[string]string     `yaml:"files_to_link"`
	FilesToHardlink  map[string]string     `yaml:"files_to_hardlink"`
	HardlinkFallback string                `yaml:"hardlink_fallback" validate:"omitempty,oneof=error copy"`
	Configs          map[string]ConfigFile `yaml:"configs" validate:"dive"`
	Execution        Execution             `yaml:"execution"`
}

// ConfigFile describes a rendered configuration file in the run directory.
type ConfigFile struct {
	Format string `yaml:"format" validate:"required"`
	Values any    `yaml:"values" validate:"required"`
	Schema string `yaml:"schema"`
}

// Execution describes how the component executable is run.
type Execution struct {
	Executable string         `yaml:"executable" validate:"required"`
	Args       []string       `yaml:"args"`
	Envcmds    []string       `yaml:"envcmds"`
	Envvars    map[string]any `yaml:"envvars"`
	Batchargs  *BatchArgs     `yaml:"batchargs"`
	Batch      bool           `yaml:"batch"`
}

// BatchArgs selects a scheduler and the resources to request from it.
type BatchArgs struct {
	Scheduler       string `yaml:"scheduler" validate:"required"`
	batch.Resources `yaml:",inline" validate:"-"`
}

// SectionError reports a component section that does not have the
// expected shape.
type SectionError struct {
	Component string
	// Field is the dotted path of the offending key inside the section.
	Field   string
	Message string
}

// Error implements the error interface.
func (e *SectionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("component %q: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("component %q: %s: %s", e.Component, e.Field, e.Message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
	})
	return v
}

// decodeSection extracts, decodes and validates the section of component.
func decodeSection(cfg *realize.Config, component string) (Section, *realize.Config, error) {
	sub, err := cfg.Section(component)
	if err != nil {
		return Section{}, nil, err
	}

	node, err := realize.ToNode(sub.Root())
	if err != nil {
		return Section{}, nil, &SectionError{Component: component, Message: err.Error()}
	}
	var s Section
	if err := node.Decode(&s); err != nil {
		return Section{}, nil, &SectionError{Component: component, Message: err.Error()}
	}

	if err := validate.Struct(s); err != nil {
		return Section{}, nil, sectionError(component, err)
	}

	if args := s.Execution.Batchargs; args != nil {
		if _, err := batch.For(args.Scheduler); err != nil {
			return Section{}, nil, &SectionError{Component: component, Field: "execution.batchargs.scheduler", Message: err.Error()}
		}
		if err := args.Resources.Validate(); err != nil {
			return Section{}, nil, &SectionError{Component: component, Field: "execution.batchargs", Message: err.Error()}
		}
	}

	return s, sub, nil
}

func sectionError(component string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &SectionError{Component: component, Message: err.Error()}
	}
	fe := fieldErrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Section.")

	msg := "failed validation: " + fe.Tag()
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "oneof":
		msg = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return &SectionError{Component: component, Field: field, Message: msg}
}
