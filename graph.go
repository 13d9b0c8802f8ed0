package screenflow

import (
	"errors"
	"fmt"
	"slices"
)

// End is the terminal marker. Connecting a stage to End finishes the run.
const End = "__end__"

// Outcomes maps the decision stage's outcomes to successor stages.
type Outcomes struct {
	// Retry is the earlier stage the loop re-enters.
	Retry string
	// Proceed is the stage (or End) that follows the loop.
	Proceed string
}

// Decision describes the single conditional edge of a graph.
type Decision struct {
	Stage    string
	Outcomes Outcomes
	// Counter is the overwrite field holding the retry count.
	Counter string
	// Ceiling is the number of retries allowed per run.
	Ceiling int
}

// Builder provides a fluent API for declaring a stage graph.
// Faults are collected and reported together by Build.
type Builder struct {
	schema   *Schema
	stages   map[string]Stage
	order    []string
	start    string
	edges    map[string]string
	router   Router
	decision *Decision
	errs     []error
}

// NewBuilder creates a graph builder over schema.
func NewBuilder(schema *Schema) *Builder {
	return &Builder{
		schema: schema,
		stages: make(map[string]Stage),
		edges:  make(map[string]string),
	}
}

// Add registers stages. The first stage added becomes the start stage unless Start is called.
func (b *Builder) Add(stages ...Stage) *Builder {
	for _, s := range stages {
		if s == nil {
			b.errs = append(b.errs, errors.New("nil stage"))
			continue
		}
		name := s.Name()
		switch {
		case name == "":
			b.errs = append(b.errs, errors.New("stage name is required"))
			continue
		case name == End:
			b.errs = append(b.errs, fmt.Errorf("stage name %q is reserved", End))
			continue
		}
		if _, dup := b.stages[name]; dup {
			b.errs = append(b.errs, fmt.Errorf("stage %q registered twice", name))
			continue
		}
		b.stages[name] = s
		b.order = append(b.order, name)
		if b.start == "" {
			b.start = name
		}
	}
	return b
}

// Start sets the entry stage.
func (b *Builder) Start(name string) *Builder {
	b.start = name
	return b
}

// Connect adds a fixed edge from one stage to the next (or to End).
func (b *Builder) Connect(from, to string) *Builder {
	if prior, ok := b.edges[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("stage %q already connected to %q", from, prior))
		return b
	}
	b.edges[from] = to
	return b
}

// Branch designates from as the decision stage. After it runs, router picks
// between the retry and proceed successors; counter and ceiling bound the loop.
func (b *Builder) Branch(from string, router Router, outcomes Outcomes, counter string, ceiling int) *Builder {
	if b.decision != nil {
		b.errs = append(b.errs, fmt.Errorf("stage %q: graph already has decision stage %q", from, b.decision.Stage))
		return b
	}
	b.router = router
	b.decision = &Decision{
		Stage:    from,
		Outcomes: outcomes,
		Counter:  counter,
		Ceiling:  ceiling,
	}
	return b
}

// Build validates the declaration and returns an immutable graph.
func (b *Builder) Build() (*Graph, error) {
	if b.schema == nil {
		return nil, buildError(errors.New("schema is required"))
	}
	errs := slices.Clone(b.errs)
	errs = append(errs, b.checkStart()...)
	errs = append(errs, b.checkEdges()...)
	errs = append(errs, b.checkDecision()...)
	errs = append(errs, b.checkStages()...)
	if len(errs) > 0 {
		return nil, buildError(errors.Join(errs...))
	}

	// Topology checks assume every reference resolves.
	errs = append(errs, b.checkReachability()...)
	errs = append(errs, b.checkAcyclic()...)
	span, spanErrs := b.retrySpan()
	errs = append(errs, spanErrs...)
	if len(errs) > 0 {
		return nil, buildError(errors.Join(errs...))
	}

	g := &Graph{
		schema: b.schema,
		stages: make(map[string]Stage, len(b.stages)),
		order:  slices.Clone(b.order),
		start:  b.start,
		edges:  make(map[string]string, len(b.edges)),
		span:   span,
	}
	for name, s := range b.stages {
		g.stages[name] = s
	}
	for from, to := range b.edges {
		g.edges[from] = to
	}
	ceiling := 0
	if b.decision != nil {
		d := *b.decision
		g.decision = &d
		g.guard = guardRouter{inner: b.router, counter: d.Counter, ceiling: d.Ceiling}
		ceiling = d.Ceiling
	}
	g.maxSteps = len(g.order) * (ceiling + 2)
	return g, nil
}

func (b *Builder) checkStart() []error {
	if b.start == "" {
		return []error{ErrNoStartNode}
	}
	if _, ok := b.stages[b.start]; !ok {
		return []error{fmt.Errorf("%w: start stage %q", ErrNodeNotFound, b.start)}
	}
	return nil
}

func (b *Builder) checkEdges() []error {
	var errs []error
	for _, from := range sortedKeys(b.edges) {
		to := b.edges[from]
		if _, ok := b.stages[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: edge source %q", ErrNodeNotFound, from))
		}
		if _, ok := b.stages[to]; !ok && to != End {
			errs = append(errs, fmt.Errorf("%w: edge %s -> %s references target %q", ErrNodeNotFound, from, to, to))
		}
	}
	return errs
}

func (b *Builder) checkDecision() []error {
	d := b.decision
	if d == nil {
		return nil
	}
	var errs []error
	if _, ok := b.stages[d.Stage]; !ok {
		errs = append(errs, fmt.Errorf("%w: decision stage %q", ErrNodeNotFound, d.Stage))
	}
	if _, ok := b.edges[d.Stage]; ok {
		errs = append(errs, fmt.Errorf("decision stage %q also has a fixed edge", d.Stage))
	}
	if b.router == nil {
		errs = append(errs, fmt.Errorf("decision stage %q has no router", d.Stage))
	}
	if _, ok := b.stages[d.Outcomes.Retry]; !ok {
		errs = append(errs, fmt.Errorf("%w: %s outcome of %q targets %q", ErrNodeNotFound, Retry, d.Stage, d.Outcomes.Retry))
	}
	if _, ok := b.stages[d.Outcomes.Proceed]; !ok && d.Outcomes.Proceed != End {
		errs = append(errs, fmt.Errorf("%w: %s outcome of %q targets %q", ErrNodeNotFound, Proceed, d.Stage, d.Outcomes.Proceed))
	}
	if d.Ceiling < 0 {
		errs = append(errs, fmt.Errorf("decision stage %q: negative retry ceiling %d", d.Stage, d.Ceiling))
	}
	field, ok := b.schema.Field(d.Counter)
	switch {
	case !ok:
		errs = append(errs, fmt.Errorf("%w: retry counter %q", ErrUnknownField, d.Counter))
	case field.Class != Overwrite:
		errs = append(errs, fmt.Errorf("retry counter %q must be an overwrite field", d.Counter))
	}
	return errs
}

func (b *Builder) checkStages() []error {
	var errs []error
	for _, name := range b.order {
		s := b.stages[name]
		_, linear := b.edges[name]
		if !linear && (b.decision == nil || b.decision.Stage != name) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrNoSuccessor, name))
		}
		for _, f := range s.Reads() {
			if _, ok := b.schema.Field(f); !ok {
				errs = append(errs, fmt.Errorf("%w: stage %q reads %q", ErrUnknownField, name, f))
			}
		}
		for _, f := range s.Writes() {
			if _, ok := b.schema.Field(f); !ok {
				errs = append(errs, fmt.Errorf("%w: stage %q writes %q", ErrUnknownField, name, f))
			}
			if b.decision != nil && f == b.decision.Counter {
				errs = append(errs, fmt.Errorf("stage %q writes retry counter %q", name, f))
			}
		}
		if s.Policy() == CollectAndContinue && b.schema.ErrorField() == "" {
			errs = append(errs, fmt.Errorf("stage %q collects faults but the schema has no error field", name))
		}
	}
	return errs
}

// successors lists every target of a stage, retry edge included.
func (b *Builder) successors(name string) []string {
	if b.decision != nil && b.decision.Stage == name {
		return []string{b.decision.Outcomes.Retry, b.decision.Outcomes.Proceed}
	}
	if to, ok := b.edges[name]; ok {
		return []string{to}
	}
	return nil
}

// forward returns the successor of name ignoring the retry edge.
func (b *Builder) forward(name string) string {
	if b.decision != nil && b.decision.Stage == name {
		return b.decision.Outcomes.Proceed
	}
	return b.edges[name]
}

func (b *Builder) checkReachability() []error {
	seen := map[string]bool{b.start: true}
	queue := []string{b.start}
	terminal := false
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range b.successors(cur) {
			if next == End {
				terminal = true
				continue
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	var errs []error
	for _, name := range b.order {
		if !seen[name] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnreachable, name))
		}
	}
	if !terminal {
		errs = append(errs, ErrMissingTerminal)
	}
	return errs
}

func (b *Builder) checkAcyclic() []error {
	// Every stage has exactly one forward successor, so walking from each
	// stage either reaches End or revisits a stage on the current walk.
	done := make(map[string]bool, len(b.order))
	for _, name := range b.order {
		onPath := map[string]bool{}
		for cur := name; cur != End && !done[cur]; cur = b.forward(cur) {
			if onPath[cur] {
				return []error{fmt.Errorf("%w: through %q", ErrCycle, cur)}
			}
			onPath[cur] = true
		}
		for n := range onPath {
			done[n] = true
		}
	}
	return nil
}

// retrySpan returns the stages re-run by the retry edge, from the retry
// target up to and including the decision stage.
func (b *Builder) retrySpan() ([]string, []error) {
	d := b.decision
	if d == nil {
		return nil, nil
	}
	var span []string
	for cur := d.Outcomes.Retry; ; cur = b.forward(cur) {
		if cur == End || slices.Contains(span, cur) {
			return nil, []error{fmt.Errorf("retry target %q does not lead back to decision stage %q", d.Outcomes.Retry, d.Stage)}
		}
		span = append(span, cur)
		if cur == d.Stage {
			break
		}
	}

	var errs []error
	for _, name := range span {
		for _, f := range b.stages[name].Writes() {
			if field, _ := b.schema.Field(f); field.Class == Accumulate {
				errs = append(errs, fmt.Errorf("%w: stage %q writes %q", ErrAccumulatorInLoop, name, f))
			}
		}
	}
	return span, errs
}

// Graph is an immutable, validated stage graph. It is safe for concurrent
// use by any number of engines and invocations.
type Graph struct {
	schema   *Schema
	stages   map[string]Stage
	order    []string
	start    string
	edges    map[string]string
	decision *Decision
	guard    guardRouter
	span     []string
	maxSteps int
}

// Schema returns the state schema the graph was validated against.
func (g *Graph) Schema() *Schema { return g.schema }

// Start returns the entry stage.
func (g *Graph) Start() string { return g.start }

// Stages returns the stage names in registration order.
func (g *Graph) Stages() []string { return slices.Clone(g.order) }

// Stage returns the stage registered under name.
func (g *Graph) Stage(name string) (Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// Successor returns the fixed successor of a linear stage.
// It reports false for the decision stage, whose successor is chosen at run time.
func (g *Graph) Successor(name string) (string, bool) {
	to, ok := g.edges[name]
	return to, ok
}

// Decision returns the decision stage definition, if the graph has one.
func (g *Graph) Decision() (Decision, bool) {
	if g.decision == nil {
		return Decision{}, false
	}
	return *g.decision, true
}

// RetrySpan returns the stages re-executed by a retry, in run order.
func (g *Graph) RetrySpan() []string { return slices.Clone(g.span) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
