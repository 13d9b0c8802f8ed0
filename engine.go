package screenflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/screenflow/internal/logging"
)

// Checkpoint is the state recorded after a stage has been merged.
type Checkpoint struct {
	RunID  string         `json:"run_id"`
	Step   int            `json:"step"`
	Stage  string         `json:"stage"`
	Values map[string]any `json:"values"`
}

// Checkpointer persists per-step state snapshots.
type Checkpointer interface {
	Save(ctx context.Context, cp Checkpoint) error
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger       *slog.Logger
	observer     Observer
	checkpointer Checkpointer
	runID        func() string
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithObserver adds an event observer. Multiple observers are called in order.
func WithObserver(obs Observer) EngineOption {
	return func(o *engineOptions) {
		if o.observer == nil {
			o.observer = obs
			return
		}
		o.observer = MultiObserver{o.observer, obs}
	}
}

// WithCheckpointer records a checkpoint after every step.
func WithCheckpointer(cp Checkpointer) EngineOption {
	return func(o *engineOptions) {
		o.checkpointer = cp
	}
}

// WithRunID overrides the run id generator.
func WithRunID(fn func() string) EngineOption {
	return func(o *engineOptions) {
		o.runID = fn
	}
}

// Engine drives invocations of a built graph.
// An Engine holds no per-run state and may execute any number of
// invocations concurrently.
type Engine struct {
	graph *Graph
	opts  engineOptions
}

// NewEngine creates an engine for graph.
func NewEngine(graph *Graph, opts ...EngineOption) *Engine {
	e := &Engine{
		graph: graph,
		opts: engineOptions{
			logger: logging.NewNop(),
			runID:  uuid.NewString,
		},
	}
	for _, opt := range opts {
		opt(&e.opts)
	}
	return e
}

// Graph returns the graph the engine executes.
func (e *Engine) Graph() *Graph { return e.graph }

// run carries the per-invocation bookkeeping.
type run struct {
	id      string
	step    int
	state   State
	retries int
}

// Execute runs one invocation from initial until the terminal marker.
//
// The initial state must hold every required field; the zero State is
// treated as empty. A FailFast stage fault returns the zero State and a *StageError.
// A CollectAndContinue fault is appended to the schema's error field as
// "<stage>: <cause>" and the stage's update is skipped. Merge failures and
// undeclared writes always abort the run.
func (e *Engine) Execute(ctx context.Context, initial State) (State, error) {
	g := e.graph
	if initial.schema == nil {
		initial = State{schema: g.schema}
	}
	if initial.schema != g.schema {
		return State{}, fmt.Errorf("state was created from a different schema")
	}
	if err := g.schema.checkRequired(initial); err != nil {
		return State{}, err
	}

	r := &run{id: e.opts.runID(), state: initial}
	logger := e.opts.logger.With("run_id", r.id)
	e.emit(Event{Type: EventRunStart, RunID: r.id, Stage: g.start})
	started := time.Now()

	for cur := g.start; cur != End; {
		r.step++
		if r.step > g.maxSteps {
			return e.abort(r, cur, fmt.Errorf("%w: %d steps", ErrStepLimit, g.maxSteps))
		}

		next, err := e.step(ctx, r, cur, logger)
		if err != nil {
			return e.abort(r, cur, err)
		}
		cur = next
	}

	logger.Info("run complete", "steps", r.step, "retries", r.retries, "elapsed", time.Since(started))
	e.emit(Event{Type: EventRunComplete, RunID: r.id, Step: r.step, Elapsed: time.Since(started)})
	return r.state, nil
}

// step runs one stage and resolves its successor.
func (e *Engine) step(ctx context.Context, r *run, name string, logger *slog.Logger) (string, error) {
	g := e.graph
	stage := g.stages[name]
	logger.Debug("running stage", "stage", name, "step", r.step)
	e.emit(Event{Type: EventStageEnter, RunID: r.id, Step: r.step, Stage: name})

	start := time.Now()
	update, runErr := stage.Run(ctx, r.state)
	elapsed := time.Since(start)

	faulted := false
	if runErr != nil {
		if err := e.fault(r, stage, runErr, logger); err != nil {
			return "", err
		}
		faulted = true
	} else {
		if err := checkWrites(stage, update); err != nil {
			return "", err
		}
		merged, err := g.schema.Merge(r.state, update)
		if err != nil {
			return "", &StageError{Stage: name, Err: err}
		}
		r.state = merged
		e.emit(Event{Type: EventStageExit, RunID: r.id, Step: r.step, Stage: name, Elapsed: elapsed})
	}

	if err := e.markStep(r, name); err != nil {
		return "", err
	}
	if err := e.checkpoint(ctx, r, name); err != nil {
		return "", err
	}

	if g.decision == nil || g.decision.Stage != name {
		return g.edges[name], nil
	}
	if faulted {
		return e.route(r, name, Proceed), nil
	}
	return e.decide(ctx, r, stage, logger)
}

// decide consults the guarded router after the decision stage.
func (e *Engine) decide(ctx context.Context, r *run, stage Stage, logger *slog.Logger) (string, error) {
	g := e.graph
	d, err := g.guard.decide(ctx, r.state)
	if err != nil {
		if err := e.fault(r, stage, fmt.Errorf("route: %w", err), logger); err != nil {
			return "", err
		}
		return e.route(r, stage.Name(), Proceed), nil
	}

	if d.outcome == Retry && r.retries >= g.decision.Ceiling {
		d = decision{outcome: Proceed, forced: true}
	}
	if d.forced {
		logger.Warn("retry ceiling reached, proceeding", "stage", stage.Name(), "ceiling", g.decision.Ceiling)
	}
	if d.outcome == Retry {
		r.retries++
		merged, err := g.schema.Merge(r.state, d.update)
		if err != nil {
			return "", &StageError{Stage: stage.Name(), Err: err}
		}
		r.state = merged
	}
	return e.route(r, stage.Name(), d.outcome), nil
}

func (e *Engine) route(r *run, from string, outcome Outcome) string {
	d := e.graph.decision
	next := d.Outcomes.Proceed
	if outcome == Retry {
		next = d.Outcomes.Retry
	}
	e.emit(Event{Type: EventRoute, RunID: r.id, Step: r.step, Stage: from, Outcome: outcome, Next: next})
	return next
}

// fault applies the stage's fault policy. It returns an error only when the
// run must abort.
func (e *Engine) fault(r *run, stage Stage, cause error, logger *slog.Logger) error {
	name := stage.Name()
	stageErr := &StageError{Stage: name, Err: cause}
	e.emit(Event{Type: EventStageFault, RunID: r.id, Step: r.step, Stage: name, Err: cause})
	if stage.Policy() != CollectAndContinue {
		return stageErr
	}

	logger.Warn("stage failed, continuing", "stage", name, "error", cause)
	merged, err := e.graph.schema.Merge(r.state, Update{
		e.graph.schema.ErrorField(): []string{fmt.Sprintf("%s: %v", name, cause)},
	})
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	r.state = merged
	return nil
}

func (e *Engine) markStep(r *run, name string) error {
	field := e.graph.schema.StepField()
	if field == "" {
		return nil
	}
	merged, err := e.graph.schema.Merge(r.state, Update{field: name})
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	r.state = merged
	return nil
}

func (e *Engine) checkpoint(ctx context.Context, r *run, name string) error {
	if e.opts.checkpointer == nil {
		return nil
	}
	cp := Checkpoint{RunID: r.id, Step: r.step, Stage: name, Values: r.state.Snapshot()}
	if err := e.opts.checkpointer.Save(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint step %d: %w", r.step, err)
	}
	return nil
}

func (e *Engine) abort(r *run, stage string, err error) (State, error) {
	e.opts.logger.Error("run aborted", "run_id", r.id, "stage", stage, "step", r.step, "error", err)
	e.emit(Event{Type: EventRunAbort, RunID: r.id, Step: r.step, Stage: stage, Err: err})
	return State{}, err
}

func (e *Engine) emit(ev Event) {
	if e.opts.observer != nil {
		e.opts.observer.OnEvent(ev)
	}
}

// checkWrites rejects update keys outside the stage's declared write set.
func checkWrites(stage Stage, update Update) error {
	if len(update) == 0 {
		return nil
	}
	writes := stage.Writes()
	for _, key := range slices.Sorted(maps.Keys(update)) {
		if !slices.Contains(writes, key) {
			return &StageError{Stage: stage.Name(), Err: fmt.Errorf("%w: %q", ErrUndeclaredWrite, key)}
		}
	}
	return nil
}
