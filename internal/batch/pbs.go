package batch

import (
	"fmt"
	"strings"
)

// PBS renders #PBS directives. Node, task and memory requests are folded
// into a single select statement.
type PBS struct {
	base
}

// NewPBS creates the PBS scheduler.
func NewPBS() *PBS {
	return &PBS{base: base{name: "pbs", prefix: "#PBS", submit: "qsub"}}
}

// Directives implements Scheduler.
func (p *PBS) Directives(r Resources) []string {
	var lines []string
	if r.JobName != "" {
		lines = append(lines, p.line("-N "+r.JobName))
	}
	if r.Account != "" {
		lines = append(lines, p.line("-A "+r.Account))
	}
	if r.Queue != "" {
		lines = append(lines, p.line("-q "+r.Queue))
	}
	if sel := p.selectStatement(r); sel != "" {
		lines = append(lines, p.line("-l "+sel))
	}
	if r.Walltime != "" {
		lines = append(lines, p.line("-l walltime="+r.Walltime))
	}
	return append(lines, p.extra(r)...)
}

func (p *PBS) selectStatement(r Resources) string {
	var parts []string
	switch {
	case r.Nodes > 0:
		parts = append(parts, fmt.Sprintf("select=%d", r.Nodes))
		if r.Tasks > 0 {
			parts = append(parts, fmt.Sprintf("mpiprocs=%d", r.Tasks), fmt.Sprintf("ncpus=%d", r.Tasks))
		}
	case r.Cores > 0:
		parts = append(parts, "select=1", fmt.Sprintf("ncpus=%d", r.Cores))
	case r.Memory != "":
		parts = append(parts, "select=1")
	default:
		return ""
	}
	if r.Memory != "" {
		parts = append(parts, "mem="+r.Memory)
	}
	return strings.Join(parts, ":")
}
