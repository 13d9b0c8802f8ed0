package screenflow

import (
	"context"
	"fmt"
	"math"

	"github.com/ohler55/ojg/jp"
)

// Outcome is the enumerated result of a decision point.
type Outcome string

const (
	// Retry re-enters the graph at an earlier stage.
	Retry Outcome = "retry"

	// Proceed continues forward.
	Proceed Outcome = "proceed"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	return o == Retry || o == Proceed
}

// Router evaluates the state at the decision stage and selects an outcome.
// The update it returns is merged before the successor runs; routers use it
// to advance their retry counter.
type Router interface {
	Decide(ctx context.Context, state StateReader) (Outcome, Update, error)
}

// RouterFunc adapts a plain function to the Router interface.
type RouterFunc func(ctx context.Context, state StateReader) (Outcome, Update, error)

func (f RouterFunc) Decide(ctx context.Context, state StateReader) (Outcome, Update, error) {
	return f(ctx, state)
}

// Predicate is a side-effect free test over the state.
type Predicate func(ctx context.Context, state StateReader) (bool, error)

// JSONPathPredicate reports whether path, evaluated against the value of
// field, yields true. An unpopulated field or an empty match is false.
//
//	needs := screenflow.JSONPathPredicate("quality_check", "$.needs_reanalysis")
func JSONPathPredicate(field, path string) (Predicate, error) {
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	return func(_ context.Context, state StateReader) (bool, error) {
		v, ok := state.Get(field)
		if !ok || v == nil {
			return false, nil
		}
		for _, match := range expr.Get(v) {
			if b, ok := match.(bool); ok && b {
				return true, nil
			}
		}
		return false, nil
	}, nil
}

// ReflectionRouter is the self-assessment decision: retry while the state is
// flagged as needing deeper analysis and the counter is below the ceiling.
type ReflectionRouter struct {
	NeedsRetry Predicate
	Counter    string
	Ceiling    int
}

// Decide implements Router.
func (r ReflectionRouter) Decide(ctx context.Context, state StateReader) (Outcome, Update, error) {
	needs, err := r.NeedsRetry(ctx, state)
	if err != nil {
		return "", nil, err
	}
	count, err := counterValue(state, r.Counter)
	if err != nil {
		return "", nil, err
	}
	if needs && count < r.Ceiling {
		return Retry, Update{r.Counter: count + 1}, nil
	}
	return Proceed, nil, nil
}

// counterValue reads an integer counter, tolerating the numeric types
// produced by JSON and script stages.
func counterValue(state StateReader, field string) (int, error) {
	v, ok := state.Get(field)
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("counter %q: non-integer value %v", field, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("counter %q: unexpected type %T", field, v)
	}
}

// decision is the resolved result of the guarded router.
type decision struct {
	outcome Outcome
	update  Update
	// forced is set when the guard overrode a retry at the ceiling.
	forced bool
}

// guardRouter wraps the decision router so the retry loop always terminates,
// whatever the wrapped router does with the counter.
type guardRouter struct {
	inner   Router
	counter string
	ceiling int
}

func (g guardRouter) decide(ctx context.Context, state StateReader) (decision, error) {
	outcome, _, err := g.inner.Decide(ctx, state)
	if err != nil {
		return decision{}, err
	}
	if !outcome.Valid() {
		return decision{}, fmt.Errorf("router returned unknown outcome %q", outcome)
	}
	if outcome == Proceed {
		return decision{outcome: Proceed}, nil
	}

	count, err := counterValue(state, g.counter)
	if err != nil {
		return decision{}, err
	}
	if count >= g.ceiling {
		return decision{outcome: Proceed, forced: true}, nil
	}
	return decision{outcome: Retry, update: Update{g.counter: count + 1}}, nil
}
