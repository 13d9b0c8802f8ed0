package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/internal/retry"
)

// ErrCircuitOpen is returned while a circuit breaker rejects runs.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Retry re-runs a failing stage according to policy. Every attempt sees the
// same state, so a retried stage stays a pure function of its input.
func Retry(policy retry.Policy) Middleware {
	return func(stage screenflow.Stage) screenflow.Stage {
		return Wrap(stage, func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error) {
			var update screenflow.Update
			err := policy.Do(ctx, func() error {
				var err error
				update, err = stage.Run(ctx, state)
				return err
			})
			if err != nil {
				return nil, err
			}
			return update, nil
		})
	}
}

// Timeout bounds a single stage run. The stage must honor ctx for the
// deadline to take effect.
func Timeout(d time.Duration) Middleware {
	return func(stage screenflow.Stage) screenflow.Stage {
		return Wrap(stage, func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			update, err := stage.Run(ctx, state)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("stage %s timed out after %v: %w", stage.Name(), d, err)
			}
			return update, err
		})
	}
}

// CircuitBreaker stops calling a stage after threshold consecutive failures
// and lets one trial run through once cooldown has elapsed.
func CircuitBreaker(threshold int, cooldown time.Duration) Middleware {
	return func(stage screenflow.Stage) screenflow.Stage {
		var (
			mu          sync.Mutex
			failures    int
			lastFailure time.Time
		)
		return Wrap(stage, func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error) {
			mu.Lock()
			if failures >= threshold && time.Since(lastFailure) < cooldown {
				mu.Unlock()
				return nil, fmt.Errorf("stage %s: %w", stage.Name(), ErrCircuitOpen)
			}
			mu.Unlock()

			update, err := stage.Run(ctx, state)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				lastFailure = time.Now()
				return nil, err
			}
			failures = 0
			return update, nil
		})
	}
}

// Validation checks every successful update before the engine merges it.
func Validation(validate func(screenflow.Update) error) Middleware {
	return func(stage screenflow.Stage) screenflow.Stage {
		return Wrap(stage, func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error) {
			update, err := stage.Run(ctx, state)
			if err != nil {
				return nil, err
			}
			if err := validate(update); err != nil {
				return nil, fmt.Errorf("output validation failed: %w", err)
			}
			return update, nil
		})
	}
}
