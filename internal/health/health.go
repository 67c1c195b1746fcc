// Package health provides dependency health checks for wxflow. It validates that
// the external tools local runs and batch submission rely on are available and
// that the tool config files parse, returning structured reports used by the
// 'wxflow doctor' command.
package health

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/ariel-frischer/wxflow/internal/batch"
	"github.com/ariel-frischer/wxflow/internal/config"
)

// CheckResult represents the result of a single health check
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
}

// SchedulerStatus reports whether the submit command of a scheduler is
// installed. Missing schedulers do not fail the report: a machine usually
// has one batch system at most.
type SchedulerStatus struct {
	Name    string
	Command string
	Path    string
}

// Available reports whether the submit command was found.
func (s SchedulerStatus) Available() bool {
	return s.Path != ""
}

// HealthReport contains all health check results
type HealthReport struct {
	Checks     []CheckResult
	Schedulers []SchedulerStatus
	Passed     bool
}

// Checker runs health checks. LookPath and the config paths are fields so
// tests can replace them.
type Checker struct {
	LookPath    func(file string) (string, error)
	ConfigPaths []string
}

// NewChecker returns a checker that inspects PATH and the user and project
// config files.
func NewChecker() *Checker {
	paths := []string{config.ProjectConfigPath()}
	if user, err := config.UserConfigPath(); err == nil {
		paths = append([]string{user}, paths...)
	}
	return &Checker{LookPath: exec.LookPath, ConfigPaths: paths}
}

// RunHealthChecks runs all health checks and returns a report.
func (c *Checker) RunHealthChecks() *HealthReport {
	report := &HealthReport{
		Checks: make([]CheckResult, 0, 1+len(c.ConfigPaths)),
		Passed: true,
	}

	add := func(check CheckResult) {
		report.Checks = append(report.Checks, check)
		if !check.Passed {
			report.Passed = false
		}
	}

	add(c.CheckShell())
	for _, path := range c.ConfigPaths {
		add(CheckConfigFile(path))
	}

	for _, name := range batch.List() {
		sched, err := batch.For(name)
		if err != nil {
			continue
		}
		command := sched.SubmitCommand()
		status := SchedulerStatus{Name: name, Command: command}
		if path, err := c.LookPath(command); err == nil {
			status.Path = path
		}
		report.Schedulers = append(report.Schedulers, status)
	}

	return report
}

// CheckShell checks that bash, which executes runscripts, is available.
func (c *Checker) CheckShell() CheckResult {
	path, err := c.LookPath("bash")
	if err != nil {
		return CheckResult{
			Name:    "bash",
			Passed:  false,
			Message: "bash not found in PATH; local runs will fail",
		}
	}

	return CheckResult{
		Name:    "bash",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// CheckConfigFile checks that a tool config file, if present, is valid YAML.
func CheckConfigFile(path string) CheckResult {
	name := "config " + path
	if err := config.ValidateYAMLSyntax(path); err != nil {
		return CheckResult{Name: name, Passed: false, Message: err.Error()}
	}
	return CheckResult{Name: name, Passed: true, Message: "ok (or not present)"}
}

// FormatReport formats the health report for console output
func FormatReport(report *HealthReport) string {
	var sb strings.Builder

	for _, check := range report.Checks {
		mark := "✓"
		if !check.Passed {
			mark = "✗"
		}
		fmt.Fprintf(&sb, "%s %s: %s\n", mark, check.Name, check.Message)
	}

	if len(report.Schedulers) > 0 {
		sb.WriteString("\nSchedulers:\n")
		for _, status := range report.Schedulers {
			sb.WriteString(FormatSchedulerStatus(status))
		}
	}

	return sb.String()
}

// FormatSchedulerStatus formats a single scheduler status for console output
func FormatSchedulerStatus(status SchedulerStatus) string {
	if status.Available() {
		return fmt.Sprintf("  ✓ %s: %s at %s\n", status.Name, status.Command, status.Path)
	}
	return fmt.Sprintf("  ○ %s: %s not available\n", status.Name, status.Command)
}
