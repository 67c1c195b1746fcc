// Package realize loads, merges and dereferences hierarchical YAML
// configuration for component runs.
//
// The package supports:
//   - Parsing YAML documents into an insertion-ordered value model
//   - Deep merging of override documents
//   - Resolving ${NAME} environment references and {{ expression }} references
//     to a fixed point, with cycle and missing-reference detection
//   - Selecting values and sections by dotted path
//
// Expressions may reference other configuration values by dotted path, the
// ambient names cycle, leadtime, valid_time and env, and the helpers
// strftime, add, int and str.
package realize
