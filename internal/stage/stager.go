package stage

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ariel-frischer/wxflow/internal/logging"
)

// SymlinkPolicy controls how Symlink treats its target.
type SymlinkPolicy int

const (
	// SymlinkStrict requires the target to exist before the link is created
	// and treats a dangling link as not ready.
	SymlinkStrict SymlinkPolicy = iota
	// SymlinkLenient creates links to targets that may not exist yet.
	SymlinkLenient
)

// String returns the policy name used in configuration.
func (p SymlinkPolicy) String() string {
	if p == SymlinkLenient {
		return "lenient"
	}
	return "strict"
}

// ParseSymlinkPolicy returns the policy named s.
func ParseSymlinkPolicy(s string) (SymlinkPolicy, error) {
	switch s {
	case "strict", "":
		return SymlinkStrict, nil
	case "lenient":
		return SymlinkLenient, nil
	}
	return SymlinkStrict, fmt.Errorf("unknown symlink policy %q (valid: strict, lenient)", s)
}

// HardlinkFallback controls what Hardlink does when the filesystem refuses
// a hard link.
type HardlinkFallback int

const (
	// FallbackError fails the task.
	FallbackError HardlinkFallback = iota
	// FallbackCopy copies the target instead.
	FallbackCopy
)

// String returns the fallback name used in configuration.
func (f HardlinkFallback) String() string {
	if f == FallbackCopy {
		return "copy"
	}
	return "error"
}

// ParseHardlinkFallback returns the fallback named s.
func ParseHardlinkFallback(s string) (HardlinkFallback, error) {
	switch s {
	case "error", "":
		return FallbackError, nil
	case "copy":
		return FallbackCopy, nil
	}
	return FallbackError, fmt.Errorf("unknown hardlink fallback %q (valid: error, copy)", s)
}

// Stager declares filesystem tasks. Primitives return engine refs; nothing
// touches the filesystem until the refs are evaluated.
type Stager struct {
	symlinkPolicy SymlinkPolicy
	fallback      HardlinkFallback
	fsync         bool
	serializers   map[string]Serializer
	logger        *slog.Logger

	// link creates hard links; replaced in tests to simulate refusals.
	link func(oldname, newname string) error

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// Option configures a Stager.
type Option func(*Stager)

// WithSymlinkPolicy sets the symlink policy. The default is SymlinkStrict.
func WithSymlinkPolicy(p SymlinkPolicy) Option {
	return func(s *Stager) {
		s.symlinkPolicy = p
	}
}

// WithHardlinkFallback sets the fallback used by hardlink collections.
func WithHardlinkFallback(f HardlinkFallback) Option {
	return func(s *Stager) {
		s.fallback = f
	}
}

// WithFsync flushes written files and their directories before a task
// reports completion.
func WithFsync(enabled bool) Option {
	return func(s *Stager) {
		s.fsync = enabled
	}
}

// WithSerializer registers a serializer for a rendered config format,
// replacing any built-in one of the same name.
func WithSerializer(format string, ser Serializer) Option {
	return func(s *Stager) {
		s.serializers[format] = ser
	}
}

// WithLogger sets the logger used by actions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stager) {
		s.logger = logger
	}
}

func withLinkFunc(fn func(oldname, newname string) error) Option {
	return func(s *Stager) {
		s.link = fn
	}
}

// New creates a Stager with the yaml, json and sh serializers registered.
func New(opts ...Option) *Stager {
	s := &Stager{
		serializers: map[string]Serializer{
			FormatYAML: SerializerFunc(serializeYAML),
			FormatJSON: SerializerFunc(serializeJSON),
			FormatSh:   SerializerFunc(serializeSh),
		},
		link:    os.Link,
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}
