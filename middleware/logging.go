package middleware

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/agentstation/screenflow"
)

// Logging logs each stage run and its outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(stage screenflow.Stage) screenflow.Stage {
		return Wrap(stage, func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error) {
			logger.DebugContext(ctx, "stage starting", "stage", stage.Name())
			start := time.Now()

			update, err := stage.Run(ctx, state)
			if err != nil {
				logger.WarnContext(ctx, "stage failed",
					"stage", stage.Name(),
					"policy", stage.Policy().String(),
					"duration", time.Since(start),
					"error", err)
				return update, err
			}
			logger.InfoContext(ctx, "stage completed",
				"stage", stage.Name(),
				"duration", time.Since(start),
				"fields", slices.Sorted(maps.Keys(update)))
			return update, nil
		})
	}
}
