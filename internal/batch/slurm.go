package batch

import "fmt"

// Slurm renders #SBATCH directives.
type Slurm struct {
	base
}

// NewSlurm creates the Slurm scheduler.
func NewSlurm() *Slurm {
	return &Slurm{base: base{name: "slurm", prefix: "#SBATCH", submit: "sbatch"}}
}

// Directives implements Scheduler.
func (s *Slurm) Directives(r Resources) []string {
	var lines []string
	add := func(format string, v any) {
		lines = append(lines, s.line(fmt.Sprintf(format, v)))
	}

	if r.JobName != "" {
		add("--job-name=%s", r.JobName)
	}
	if r.Account != "" {
		add("--account=%s", r.Account)
	}
	if r.Queue != "" {
		add("--qos=%s", r.Queue)
	}
	if r.Nodes > 0 {
		add("--nodes=%d", r.Nodes)
		if r.Tasks > 0 {
			add("--ntasks-per-node=%d", r.Tasks)
		}
	} else if r.Cores > 0 {
		add("--ntasks=%d", r.Cores)
	}
	if r.Memory != "" {
		add("--mem=%s", r.Memory)
	}
	if r.Walltime != "" {
		add("--time=%s", r.Walltime)
	}
	return append(lines, s.extra(r)...)
}
