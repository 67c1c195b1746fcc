package stage

import "fmt"

// OpError reports a failed filesystem operation.
type OpError struct {
	// Op names the operation, e.g. "mkdir", "symlink", "hardlink", "copy".
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// SerializationError reports values that cannot be rendered in the requested format.
type SerializationError struct {
	Path   string
	Format string
	Err    error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("rendering %s as %s: %v", e.Path, e.Format, e.Err)
}

// Unwrap returns the underlying error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// SchemaError reports values that do not satisfy a JSON Schema, or a schema
// that cannot be compiled.
type SchemaError struct {
	Path   string
	Schema string
	Err    error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("validating %s against %s: %v", e.Path, e.Schema, e.Err)
}

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error {
	return e.Err
}
