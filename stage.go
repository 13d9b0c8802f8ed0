package screenflow

import (
	"context"
	"fmt"
	"slices"
)

// FaultPolicy declares what the engine does when a stage fails.
type FaultPolicy int

const (
	// FailFast aborts the run and surfaces the cause.
	FailFast FaultPolicy = iota

	// CollectAndContinue records the fault in the error field, skips the
	// stage's update and proceeds to its declared successor.
	CollectAndContinue
)

func (p FaultPolicy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case CollectAndContinue:
		return "collect_and_continue"
	default:
		return fmt.Sprintf("FaultPolicy(%d)", int(p))
	}
}

// ParseFaultPolicy converts the textual form used in graph definitions.
// The empty string selects FailFast.
func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch s {
	case "", "fail_fast":
		return FailFast, nil
	case "collect", "collect_and_continue":
		return CollectAndContinue, nil
	default:
		return 0, fmt.Errorf("unknown fault policy %q", s)
	}
}

// Stage is a unit of work in the pipeline: a function of the full state that
// returns a partial update. Stages never write to the container directly.
type Stage interface {
	// Name returns the stage identifier used as the graph node key.
	Name() string

	// Reads lists the fields the stage consumes.
	Reads() []string

	// Writes lists the fields the stage may return in its update.
	Writes() []string

	// Policy reports how a failure of this stage is handled.
	Policy() FaultPolicy

	// Run computes the stage update from a read-only view of the state.
	Run(ctx context.Context, state StateReader) (Update, error)
}

// PrepFunc extracts what the stage needs from the state.
type PrepFunc func(ctx context.Context, state StateReader) (prepResult any, err error)

// ExecFunc performs the stage's work without state access.
type ExecFunc func(ctx context.Context, prepResult any) (execResult any, err error)

// FallbackFunc handles an Exec failure using the prepared data.
type FallbackFunc func(ctx context.Context, prepResult any, execErr error) (fallbackResult any, err error)

// PostFunc turns the exec result into the stage update.
type PostFunc func(ctx context.Context, state StateReader, prepResult, execResult any) (Update, error)

// Steps groups the lifecycle functions for a stage.
// All fields are optional - if not provided, default implementations will be used.
type Steps struct {
	Prep     PrepFunc
	Exec     ExecFunc
	Fallback FallbackFunc
	Post     PostFunc
}

type stageOptions struct {
	prep     PrepFunc
	exec     ExecFunc
	fallback FallbackFunc
	post     PostFunc

	reads  []string
	writes []string
	policy FaultPolicy
}

// Option configures a Stage.
type Option func(*stageOptions)

// WithReads declares the fields the stage reads.
func WithReads(fields ...string) Option {
	return func(o *stageOptions) {
		o.reads = append(o.reads, fields...)
	}
}

// WithWrites declares the fields the stage may write.
func WithWrites(fields ...string) Option {
	return func(o *stageOptions) {
		o.writes = append(o.writes, fields...)
	}
}

// WithPolicy sets the stage's fault policy.
func WithPolicy(p FaultPolicy) Option {
	return func(o *stageOptions) {
		o.policy = p
	}
}

// WithPrep sets the preparation function with a typed result.
func WithPrep[Out any](fn func(ctx context.Context, state StateReader) (Out, error)) Option {
	return func(o *stageOptions) {
		o.prep = func(ctx context.Context, state StateReader) (any, error) {
			return fn(ctx, state)
		}
	}
}

// WithExec sets the execution function with type safety.
func WithExec[In, Out any](fn func(ctx context.Context, input In) (Out, error)) Option {
	return func(o *stageOptions) {
		o.exec = func(ctx context.Context, prepResult any) (any, error) {
			typed, err := assertAs[In]("exec", prepResult)
			if err != nil {
				return nil, err
			}
			return fn(ctx, typed)
		}
	}
}

// WithPost sets the post-processing function with type safety.
func WithPost[In, Out any](fn func(ctx context.Context, state StateReader, prepResult In, execResult Out) (Update, error)) Option {
	return func(o *stageOptions) {
		o.post = func(ctx context.Context, state StateReader, prepResult, execResult any) (Update, error) {
			typedPrep, err := assertAs[In]("post", prepResult)
			if err != nil {
				return nil, err
			}
			typedExec, err := assertAs[Out]("post", execResult)
			if err != nil {
				return nil, err
			}
			return fn(ctx, state, typedPrep, typedExec)
		}
	}
}

func assertAs[T any](step string, v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s expected %T, got %T", step, zero, v)
	}
	return typed, nil
}

// stage is the private implementation of Stage built from lifecycle steps.
type stage struct {
	name string
	opts stageOptions
}

// NewStage creates a stage from its lifecycle steps.
//
// The engine calls Run, which executes Prep with the read-only state, Exec
// with the prep result (falling back to Fallback if Exec fails), and Post to
// shape the update. Defaults: Prep yields nil, Exec passes the prep result
// through, Post expects the exec result to already be an Update.
//
//	parse := screenflow.NewStage("resume_parser",
//	    screenflow.Steps{},
//	    screenflow.WithPrep(loadDocuments),
//	    screenflow.WithExec(parseDocuments),
//	    screenflow.WithPost(toCandidates),
//	    screenflow.WithReads("resumes"),
//	    screenflow.WithWrites("candidates"),
//	    screenflow.WithPolicy(screenflow.CollectAndContinue),
//	)
func NewStage(name string, steps Steps, opts ...Option) Stage {
	s := &stage{name: name}
	s.opts.prep = steps.Prep
	s.opts.exec = steps.Exec
	s.opts.fallback = steps.Fallback
	s.opts.post = steps.Post
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.opts.reads = slices.Clip(s.opts.reads)
	s.opts.writes = slices.Clip(s.opts.writes)
	return s
}

// StageFunc creates a stage from a single function of state to update.
func StageFunc(name string, fn func(ctx context.Context, state StateReader) (Update, error), opts ...Option) Stage {
	return NewStage(name, Steps{
		Prep: func(ctx context.Context, state StateReader) (any, error) {
			return fn(ctx, state)
		},
	}, opts...)
}

func (s *stage) Name() string        { return s.name }
func (s *stage) Reads() []string     { return slices.Clone(s.opts.reads) }
func (s *stage) Writes() []string    { return slices.Clone(s.opts.writes) }
func (s *stage) Policy() FaultPolicy { return s.opts.policy }

// Run executes the Prep/Exec/Post lifecycle.
func (s *stage) Run(ctx context.Context, state StateReader) (Update, error) {
	var (
		prepResult any
		err        error
	)
	if s.opts.prep != nil {
		prepResult, err = s.opts.prep(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("prep failed: %w", err)
		}
	}

	execResult := prepResult
	if s.opts.exec != nil {
		execResult, err = s.opts.exec(ctx, prepResult)
		if err != nil {
			if s.opts.fallback == nil {
				return nil, fmt.Errorf("exec failed: %w", err)
			}
			fallbackResult, fallbackErr := s.opts.fallback(ctx, prepResult, err)
			if fallbackErr != nil {
				return nil, fmt.Errorf("exec failed and fallback failed: primary=%w, fallback=%v", err, fallbackErr)
			}
			execResult = fallbackResult
		}
	}

	if s.opts.post != nil {
		update, err := s.opts.post(ctx, state, prepResult, execResult)
		if err != nil {
			return nil, fmt.Errorf("post failed: %w", err)
		}
		return update, nil
	}

	switch v := execResult.(type) {
	case nil:
		return nil, nil
	case Update:
		return v, nil
	case map[string]any:
		return Update(v), nil
	default:
		return nil, fmt.Errorf("post: stage %q produced %T without a Post step", s.name, execResult)
	}
}
