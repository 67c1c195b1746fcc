// Package driver stages and runs a generic NWP component from its section
// of a realized configuration. Each task it exposes is an engine.Ref built
// from stage primitives.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ariel-frischer/wxflow/internal/batch"
	"github.com/ariel-frischer/wxflow/internal/engine"
	"github.com/ariel-frischer/wxflow/internal/logging"
	"github.com/ariel-frischer/wxflow/internal/realize"
	"github.com/ariel-frischer/wxflow/internal/stage"
)

// Task names accepted by Task, in dependency order.
const (
	TaskRundir            = "rundir"
	TaskFilesCopied       = "files_copied"
	TaskFilesLinked       = "files_linked"
	TaskFilesHardlinked   = "files_hardlinked"
	TaskConfigs           = "configs"
	TaskProvisionedRundir = "provisioned_rundir"
	TaskRunscript         = "runscript"
	TaskRun               = "run"
)

// Tasks lists every task name with a one-line description.
var Tasks = []struct {
	Name        string
	Description string
}{
	{TaskRundir, "Create the run directory"},
	{TaskFilesCopied, "Copy files_to_copy into the run directory"},
	{TaskFilesLinked, "Symlink files_to_link into the run directory"},
	{TaskFilesHardlinked, "Hard link files_to_hardlink into the run directory"},
	{TaskConfigs, "Render configs into the run directory"},
	{TaskProvisionedRundir, "Run directory with all files and configs in place"},
	{TaskRunscript, "Write the runscript"},
	{TaskRun, "Run the component locally or submit it to the scheduler"},
}

// UnknownTaskError is returned by Task for a name not in Tasks.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	names := make([]string, len(Tasks))
	for i, t := range Tasks {
		names[i] = t.Name
	}
	return fmt.Sprintf("unknown task %q; available: %s", e.Name, strings.Join(names, ", "))
}

// commandFunc builds the commands the run task executes.
type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Driver exposes the tasks of one component.
type Driver struct {
	component  string
	section    Section
	sub        *realize.Config
	stager     *stage.Stager
	batch      bool
	runTimeout time.Duration
	logger     *slog.Logger
	command    commandFunc
}

// Option configures a Driver.
type Option func(*driverOptions)

type driverOptions struct {
	stageOpts  []stage.Option
	batch      *bool
	runTimeout time.Duration
	logger     *slog.Logger
	command    commandFunc
}

// WithStageOptions passes options to the driver's Stager. A
// hardlink_fallback in the component section takes precedence.
func WithStageOptions(opts ...stage.Option) Option {
	return func(o *driverOptions) {
		o.stageOpts = append(o.stageOpts, opts...)
	}
}

// WithBatch overrides execution.batch from the section.
func WithBatch(enabled bool) Option {
	return func(o *driverOptions) {
		o.batch = &enabled
	}
}

// WithRunTimeout limits local execution of the runscript.
func WithRunTimeout(d time.Duration) Option {
	return func(o *driverOptions) {
		o.runTimeout = d
	}
}

// WithLogger sets the logger used by the driver and its stager.
func WithLogger(logger *slog.Logger) Option {
	return func(o *driverOptions) {
		o.logger = logger
	}
}

func withCommand(fn commandFunc) Option {
	return func(o *driverOptions) {
		o.command = fn
	}
}

// New decodes and validates the section of component in cfg, which should
// already be dereferenced.
func New(cfg *realize.Config, component string, opts ...Option) (*Driver, error) {
	o := driverOptions{command: exec.CommandContext}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}

	section, sub, err := decodeSection(cfg, component)
	if err != nil {
		return nil, err
	}

	stageOpts := append([]stage.Option{stage.WithLogger(o.logger)}, o.stageOpts...)
	switch section.HardlinkFallback {
	case "copy":
		stageOpts = append(stageOpts, stage.WithHardlinkFallback(stage.FallbackCopy))
	case "error":
		stageOpts = append(stageOpts, stage.WithHardlinkFallback(stage.FallbackError))
	}

	d := &Driver{
		component:  component,
		section:    section,
		sub:        sub,
		stager:     stage.New(stageOpts...),
		batch:      section.Execution.Batch,
		runTimeout: o.runTimeout,
		logger:     o.logger.With(slog.String("component", component)),
		command:    o.command,
	}
	if o.batch != nil {
		d.batch = *o.batch
	}
	if d.batch && section.Execution.Batchargs == nil {
		return nil, &SectionError{Component: component, Field: "execution.batchargs", Message: "required when batch is true"}
	}
	return d, nil
}

// Component returns the component name.
func (d *Driver) Component() string {
	return d.component
}

// Rundir returns the run directory path.
func (d *Driver) Rundir() string {
	return d.section.Rundir
}

// RunscriptPath returns where the runscript is written.
func (d *Driver) RunscriptPath() string {
	return filepath.Join(d.section.Rundir, "runscript."+d.component)
}

// Task returns the named task.
func (d *Driver) Task(name string) (engine.Ref, error) {
	switch name {
	case TaskRundir:
		return d.RundirTask(), nil
	case TaskFilesCopied:
		return d.FilesCopied(), nil
	case TaskFilesLinked:
		return d.FilesLinked(), nil
	case TaskFilesHardlinked:
		return d.FilesHardlinked(), nil
	case TaskConfigs:
		return d.Configs(), nil
	case TaskProvisionedRundir:
		return d.ProvisionedRundir(), nil
	case TaskRunscript:
		return d.Runscript(), nil
	case TaskRun:
		return d.Run(), nil
	default:
		return engine.Ref{}, &UnknownTaskError{Name: name}
	}
}

func (d *Driver) ref(task string, define engine.DefineFunc) engine.Ref {
	return engine.NewRef("driver."+task, []any{d.component, d.section.Rundir, d.batch}, define)
}

func (d *Driver) taskName(task string) string {
	return d.component + " " + task
}

// RundirTask creates the run directory.
func (d *Driver) RundirTask() engine.Ref {
	return d.stager.Directory(d.section.Rundir)
}

// FilesCopied copies files_to_copy into the run directory.
func (d *Driver) FilesCopied() engine.Ref {
	return d.collection(TaskFilesCopied, "files_to_copy", stage.CollectCopy)
}

// FilesLinked symlinks files_to_link into the run directory.
func (d *Driver) FilesLinked() engine.Ref {
	return d.collection(TaskFilesLinked, "files_to_link", stage.CollectSymlink)
}

// FilesHardlinked hard links files_to_hardlink into the run directory.
func (d *Driver) FilesHardlinked() engine.Ref {
	return d.collection(TaskFilesHardlinked, "files_to_hardlink", stage.CollectHardlink)
}

func (d *Driver) collection(task, key string, kind stage.CollectionKind) engine.Ref {
	return d.ref(task, func() (engine.Definition, error) {
		items := d.items(key)
		return engine.Tasks(d.taskName(task), engine.Requires(
			d.stager.Collection(kind, items, d.section.Rundir),
		)), nil
	})
}

// items returns the dst: src pairs under key in configuration order.
func (d *Driver) items(key string) []stage.Item {
	v, ok := d.sub.Root().Get(key)
	if !ok {
		return nil
	}
	m, ok := v.(*realize.Map)
	if !ok {
		return nil
	}
	items := make([]stage.Item, 0, m.Len())
	for _, dst := range m.Keys() {
		src, _ := m.Get(dst)
		s, _ := src.(string)
		items = append(items, stage.Item{Dst: dst, Src: s})
	}
	return items
}

// Configs renders every entry of configs into the run directory.
func (d *Driver) Configs() engine.Ref {
	return d.ref(TaskConfigs, func() (engine.Definition, error) {
		var refs []engine.Ref
		for _, name := range d.configNames() {
			cf := d.section.Configs[name]
			values, err := d.configValues(name)
			if err != nil {
				return engine.Definition{}, err
			}
			path := filepath.Join(d.section.Rundir, name)
			refs = append(refs, d.stager.RenderedConfig(path, cf.Format, values, cf.Schema))
		}
		return engine.Tasks(d.taskName(TaskConfigs), engine.Requires(refs...)), nil
	})
}

// configNames returns the configs keys in configuration order.
func (d *Driver) configNames() []string {
	v, ok := d.sub.Root().Get("configs")
	if !ok {
		return nil
	}
	m, ok := v.(*realize.Map)
	if !ok {
		return nil
	}
	return m.Keys()
}

// configValues looks up configs.<name>.values without splitting name on
// dots, since file names usually contain one.
func (d *Driver) configValues(name string) (any, error) {
	configs, _ := d.sub.Root().Get("configs")
	entry, ok := configs.(*realize.Map).Get(name)
	if !ok {
		return nil, &realize.KeyError{Path: "configs." + name, Key: name}
	}
	m, ok := entry.(*realize.Map)
	if !ok {
		return nil, &SectionError{Component: d.component, Field: "configs." + name, Message: "must be a mapping"}
	}
	values, ok := m.Get("values")
	if !ok {
		return nil, &realize.KeyError{Path: "configs." + name + ".values", Key: "values"}
	}
	return values, nil
}

// ProvisionedRundir is the run directory with every file and config in place.
func (d *Driver) ProvisionedRundir() engine.Ref {
	return d.ref(TaskProvisionedRundir, func() (engine.Definition, error) {
		return engine.Tasks(d.taskName(TaskProvisionedRundir), engine.Requires(
			d.RundirTask(),
			d.FilesCopied(),
			d.FilesLinked(),
			d.FilesHardlinked(),
			d.Configs(),
		)), nil
	})
}

// Runscript writes the runscript, with scheduler directives in batch mode.
func (d *Driver) Runscript() engine.Ref {
	rs, err := d.runscript()
	if err != nil {
		return d.ref(TaskRunscript, func() (engine.Definition, error) {
			return engine.Definition{}, err
		})
	}
	return d.stager.Runscript(d.RunscriptPath(), rs)
}

func (d *Driver) runscript() (stage.Runscript, error) {
	exe := d.section.Execution
	rs := stage.Runscript{
		Envcmds:   exe.Envcmds,
		Execution: strings.Join(append([]string{exe.Executable}, exe.Args...), " "),
	}

	if len(exe.Envvars) > 0 {
		rs.Envvars = make(map[string]string, len(exe.Envvars))
		for k, v := range exe.Envvars {
			s, err := realize.Stringify(normalizeScalar(v))
			if err != nil {
				return stage.Runscript{}, &SectionError{Component: d.component, Field: "execution.envvars." + k, Message: err.Error()}
			}
			rs.Envvars[k] = s
		}
	}

	if d.batch {
		sched, err := batch.For(exe.Batchargs.Scheduler)
		if err != nil {
			return stage.Runscript{}, err
		}
		resources := exe.Batchargs.Resources
		if resources.JobName == "" {
			resources.JobName = d.component
		}
		rs.Directives = sched.Directives(resources)
	}
	return rs, nil
}

// normalizeScalar maps yaml-decoded scalars onto configuration values.
func normalizeScalar(v any) any {
	if conv, err := realize.FromNative(v); err == nil {
		return conv
	}
	return v
}
