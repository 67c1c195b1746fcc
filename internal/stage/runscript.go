package stage

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/ariel-frischer/wxflow/internal/engine"
)

// Runscript describes the content of a generated shell script.
type Runscript struct {
	// Directives are batch system lines such as "#SBATCH --nodes=2",
	// written right after the shebang.
	Directives []string
	// Envcmds are shell commands that prepare the environment, e.g.
	// "module load netcdf".
	Envcmds []string
	// Envvars are exported in key order.
	Envvars map[string]string
	// Execution is the command line that runs the component.
	Execution string
}

// DoneMarker returns the path the script touches after a successful run.
func DoneMarker(path string) string {
	return path + ".done"
}

// Render returns the script text for path.
func (r Runscript) Render(path string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	for _, d := range r.Directives {
		b.WriteString(d + "\n")
	}

	if len(r.Envcmds) > 0 {
		b.WriteString("\n")
		for _, cmd := range r.Envcmds {
			b.WriteString(cmd + "\n")
		}
	}

	if len(r.Envvars) > 0 {
		b.WriteString("\n")
		keys := make([]string, 0, len(r.Envvars))
		for k := range r.Envvars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("export " + k + "=" + shellQuote(r.Envvars[k]) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(r.Execution + "\n")
	b.WriteString("test $? -eq 0 && touch " + shellQuote(DoneMarker(path)) + "\n")
	return b.String()
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellQuote quotes s for the shell unless it is made of safe characters only.
func shellQuote(s string) string {
	if shellSafe.MatchString(s) {
		return s
	}
	return singleQuote(s)
}

// Runscript declares an executable script at path.
func (s *Stager) Runscript(path string, rs Runscript) engine.Ref {
	return engine.NewRef((*Stager).Runscript, []any{path, rs}, func() (engine.Definition, error) {
		asset := engine.NewAsset(path, func() bool { return isExecutable(path) })

		return engine.Task("runscript "+path, []engine.Asset{asset}, nil, func(context.Context) error {
			content := rs.Render(path)
			if err := atomicWriteFile(path, []byte(content), 0o755, s.fsync); err != nil {
				return &OpError{Op: "write", Path: path, Err: err}
			}
			s.logger.Debug("wrote runscript", slog.String("path", path))
			return nil
		}), nil
	})
}
