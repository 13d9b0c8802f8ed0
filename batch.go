package screenflow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one invocation in a batch.
type Result struct {
	Index int
	State State
	Err   error
}

// ExecuteBatch runs independent invocations concurrently, at most limit at a
// time (unbounded when limit <= 0). Results are returned in input order.
// Invocations share nothing but the graph: a failed invocation never cancels
// or alters the others.
func (e *Engine) ExecuteBatch(ctx context.Context, inputs []State, limit int) []Result {
	results := make([]Result, len(inputs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, input := range inputs {
		g.Go(func() error {
			st, err := e.Execute(ctx, input)
			results[i] = Result{Index: i, State: st, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
