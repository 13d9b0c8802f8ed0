// Package middleware wraps stages with cross-cutting behavior such as
// logging, timing, metrics and per-stage retries. A wrapped stage keeps the
// name, declared reads and writes and fault policy of the stage it wraps.
package middleware

import (
	"context"

	"github.com/agentstation/screenflow"
)

// Middleware modifies stage behavior.
type Middleware func(screenflow.Stage) screenflow.Stage

// RunFunc is the signature of Stage.Run.
type RunFunc func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error)

// wrapped replaces the Run of an inner stage and delegates everything else.
type wrapped struct {
	screenflow.Stage
	run RunFunc
}

func (w *wrapped) Run(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error) {
	return w.run(ctx, state)
}

// Wrap returns a stage that behaves like inner except for its Run.
func Wrap(inner screenflow.Stage, run RunFunc) screenflow.Stage {
	return &wrapped{Stage: inner, run: run}
}

// Chain combines multiple middlewares into a single middleware.
// The first middleware is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(stage screenflow.Stage) screenflow.Stage {
		for i := len(middlewares) - 1; i >= 0; i-- {
			stage = middlewares[i](stage)
		}
		return stage
	}
}

// Apply applies middleware to a stage, innermost first.
func Apply(stage screenflow.Stage, middlewares ...Middleware) screenflow.Stage {
	for _, mw := range middlewares {
		stage = mw(stage)
	}
	return stage
}
