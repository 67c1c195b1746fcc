package realize

import (
	"fmt"
	"strings"
)

// ParseError represents a malformed configuration source with location information.
type ParseError struct {
	// Source names the document (usually a file path).
	Source  string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Source, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Message)
}

// KeyError reports a dotted path that does not exist in a configuration.
type KeyError struct {
	// Path is the full dotted path that was requested.
	Path string
	// Key is the first segment that could not be found.
	Key string
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	if e.Path == e.Key {
		return fmt.Sprintf("key %q not found", e.Key)
	}
	return fmt.Sprintf("key %q not found (looking up %q)", e.Key, e.Path)
}

// UnresolvedReferenceError reports a reference expression that cannot be
// resolved, either because its target is missing or because it is null.
type UnresolvedReferenceError struct {
	// Location is the dotted path of the value holding the expression.
	Location string
	// Expr is the expression text between the braces.
	Expr string
	// Reason describes why resolution failed.
	Reason string
}

// Error implements the error interface.
func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s: cannot resolve {{ %s }}: %s", e.Location, e.Expr, e.Reason)
}

// CyclicReferenceError reports references that never converge to a fixed point.
type CyclicReferenceError struct {
	// Locations lists the dotted paths still holding unresolved expressions.
	Locations []string
	// Passes is the number of resolution passes performed.
	Passes int
}

// Error implements the error interface.
func (e *CyclicReferenceError) Error() string {
	return fmt.Sprintf("cyclic reference after %d pass(es): %s", e.Passes, strings.Join(e.Locations, ", "))
}

// ExpressionError reports an expression outside the supported grammar or one
// whose evaluation failed.
type ExpressionError struct {
	Location string
	Expr     string
	Message  string
}

// Error implements the error interface.
func (e *ExpressionError) Error() string {
	return fmt.Sprintf("%s: invalid expression {{ %s }}: %s", e.Location, e.Expr, e.Message)
}
