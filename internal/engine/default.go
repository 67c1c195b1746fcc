package engine

import (
	"context"
	"sync"
)

var (
	lastMu     sync.Mutex
	lastResult *Result
)

// Evaluate evaluates root with a default Evaluator and remembers the result
// for Graph.
func Evaluate(ctx context.Context, root Ref) (*Node, error) {
	res, err := New().Evaluate(ctx, root)
	if err != nil {
		return nil, err
	}

	lastMu.Lock()
	lastResult = res
	lastMu.Unlock()
	return res.Root, nil
}

// Graph returns the DOT trace of the most recent package-level Evaluate,
// or an empty string when there was none.
func Graph() string {
	lastMu.Lock()
	defer lastMu.Unlock()
	if lastResult == nil {
		return ""
	}
	return lastResult.Graph()
}
