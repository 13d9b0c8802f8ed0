// Package batch runs per-item work concurrently inside a single stage and
// returns at one completion point, so the stage can emit one merged update.
package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Option configures a batch call.
type Option func(*options)

type options struct {
	maxConcurrency int
}

// WithConcurrency sets the maximum concurrent workers. Values below one run sequentially.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

func newOptions(opts []Option) options {
	o := options{maxConcurrency: 10}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxConcurrency < 1 {
		o.maxConcurrency = 1
	}
	return o
}

// Map applies fn to every item and returns the results in input order.
// The first error cancels the remaining work and is returned.
func Map[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts ...Option) ([]R, error) {
	o := newOptions(opts)
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrency)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := fn(ctx, item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Outcome is the per-item result of Collect.
type Outcome[R any] struct {
	Value R
	Err   error
}

// Collect applies fn to every item without stopping on failure.
// Each outcome carries its own value or error, in input order.
func Collect[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts ...Option) []Outcome[R] {
	o := newOptions(opts)
	out := make([]Outcome[R], len(items))

	var g errgroup.Group
	g.SetLimit(o.maxConcurrency)
	for i, item := range items {
		g.Go(func() error {
			r, err := fn(ctx, item)
			out[i] = Outcome[R]{Value: r, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Errors joins the failures of a Collect call, or returns nil.
func Errors[R any](outcomes []Outcome[R]) error {
	var errs []error
	for i, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Filter keeps the items for which keep reports true, preserving order.
func Filter[T any](ctx context.Context, items []T, keep func(ctx context.Context, item T) (bool, error), opts ...Option) ([]T, error) {
	flags, err := Map(ctx, items, keep, opts...)
	if err != nil {
		return nil, err
	}
	var out []T
	for i, ok := range flags {
		if ok {
			out = append(out, items[i])
		}
	}
	return out, nil
}
