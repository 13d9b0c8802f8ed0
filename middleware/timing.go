package middleware

import (
	"context"
	"time"

	"github.com/agentstation/screenflow"
)

// Timing reports the wall time of every run of the stage, failed runs included.
func Timing(record func(stage string, d time.Duration)) Middleware {
	return func(stage screenflow.Stage) screenflow.Stage {
		return Wrap(stage, func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error) {
			start := time.Now()
			defer func() { record(stage.Name(), time.Since(start)) }()
			return stage.Run(ctx, state)
		})
	}
}
