package realize

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Context is the ambient information references are resolved against.
type Context struct {
	// Cycle identifies the forecast cycle. Normalized to UTC.
	Cycle *time.Time
	// Leadtime is added to Cycle to obtain the valid time.
	Leadtime *time.Duration
	// Env holds process environment variables for ${NAME} lookups and the
	// env.NAME expression namespace.
	Env map[string]string
}

// NewContext builds a context from optional cycle and leadtime values and
// the current process environment.
func NewContext(cycle *time.Time, leadtime *time.Duration) Context {
	ctx := Context{Leadtime: leadtime, Env: Environ()}
	if cycle != nil {
		utc := cycle.UTC()
		ctx.Cycle = &utc
	}
	return ctx
}

// ValidTime returns cycle + leadtime. It reports false when no cycle is set.
func (c Context) ValidTime() (time.Time, bool) {
	if c.Cycle == nil {
		return time.Time{}, false
	}
	vt := c.Cycle.UTC()
	if c.Leadtime != nil {
		vt = vt.Add(*c.Leadtime)
	}
	return vt, true
}

// ParseLeadtime accepts a number of hours ("6", "1.5") or a Go duration
// string ("6h30m").
func ParseLeadtime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if h, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(h * float64(time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid leadtime %q: want hours or a duration such as 6h", s)
	}
	return d, nil
}

// ParseCycle accepts RFC 3339 timestamps and the compact forms
// YYYY-MM-DDTHH and YYYYMMDDHH. The result is in UTC.
func ParseCycle(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range append([]string{"2006010215"}, timeLayouts...) {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid cycle %q: want e.g. 2024-05-05T12:00:00Z or 2024050512", s)
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
