package yaml

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/internal/retry"
	"github.com/agentstation/screenflow/middleware"
)

// StageBuilder creates a stage from its definition.
type StageBuilder func(def *StageDefinition) (screenflow.Stage, error)

// Loader loads graph definitions and builds executable graphs.
type Loader struct {
	parser   *Parser
	builders map[string]StageBuilder
	wrap     []middleware.Middleware
}

// NewLoader creates a new YAML graph loader with no stage types registered.
func NewLoader() *Loader {
	return &Loader{
		parser:   NewParser(),
		builders: make(map[string]StageBuilder),
	}
}

// RegisterStageType registers a builder for a stage type. A later
// registration for the same type replaces the earlier one.
func (l *Loader) RegisterStageType(stageType string, builder StageBuilder) {
	l.builders[stageType] = builder
}

// StageTypes returns the registered stage types in sorted order.
func (l *Loader) StageTypes() []string {
	return sortedTypes(l.builders)
}

// Use adds middleware applied to every stage the loader builds, outermost last.
func (l *Loader) Use(mws ...middleware.Middleware) *Loader {
	l.wrap = append(l.wrap, mws...)
	return l
}

// LoadFile loads a graph from a YAML file.
func (l *Loader) LoadFile(filename string) (*screenflow.Graph, error) {
	def, err := l.parser.ParseFile(filename)
	if err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}
	return l.Load(def)
}

// LoadBytes loads a graph from a YAML document.
func (l *Loader) LoadBytes(data []byte) (*screenflow.Graph, error) {
	def, err := l.parser.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	return l.Load(def)
}

// LoadString loads a graph from a YAML string.
func (l *Loader) LoadString(s string) (*screenflow.Graph, error) {
	return l.LoadBytes([]byte(s))
}

// Load builds the graph a parsed definition describes.
func (l *Loader) Load(def *Definition) (*screenflow.Graph, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph definition: %w", err)
	}
	schema, err := def.Schema()
	if err != nil {
		return nil, fmt.Errorf("invalid graph definition: %w", err)
	}

	b := screenflow.NewBuilder(schema)
	var errs []error
	for i := range def.Stages {
		stage, err := l.buildStage(&def.Stages[i])
		if err != nil {
			errs = append(errs, fmt.Errorf("create stage %s: %w", def.Stages[i].Name, err))
			continue
		}
		b.Add(stage)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if def.Start != "" {
		b.Start(def.Start)
	}
	for _, conn := range def.Connections {
		b.Connect(conn.From, target(conn.To))
	}
	if dd := def.Decision; dd != nil {
		needs, err := screenflow.JSONPathPredicate(dd.Flag.Field, dd.Flag.Path)
		if err != nil {
			return nil, fmt.Errorf("decision flag: %w", err)
		}
		ceiling := dd.CeilingOrDefault()
		router := screenflow.ReflectionRouter{NeedsRetry: needs, Counter: dd.Counter, Ceiling: ceiling}
		b.Branch(dd.Stage, router, screenflow.Outcomes{
			Retry:   target(dd.Outcomes.Retry),
			Proceed: target(dd.Outcomes.Proceed),
		}, dd.Counter, ceiling)
	}

	return b.Build()
}

// buildStage creates a stage and applies the definition's policy, retry and
// timeout settings.
func (l *Loader) buildStage(def *StageDefinition) (screenflow.Stage, error) {
	builder, ok := l.builders[def.Type]
	if !ok {
		return nil, fmt.Errorf("unknown stage type %q (registered: %v)", def.Type, l.StageTypes())
	}
	stage, err := builder(def)
	if err != nil {
		return nil, err
	}
	if stage.Name() != def.Name {
		return nil, fmt.Errorf("builder for type %q returned stage %q", def.Type, stage.Name())
	}

	if def.Policy != "" {
		policy, err := screenflow.ParseFaultPolicy(def.Policy)
		if err != nil {
			return nil, err
		}
		if policy != stage.Policy() {
			stage = &policyStage{Stage: stage, policy: policy}
		}
	}

	var mws []middleware.Middleware
	if def.Retry != nil {
		policy, err := def.Retry.Policy()
		if err != nil {
			return nil, err
		}
		mws = append(mws, middleware.Retry(policy))
	}
	if def.Timeout != "" {
		timeout, err := time.ParseDuration(def.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parse timeout: %w", err)
		}
		mws = append(mws, middleware.Timeout(timeout))
	}
	mws = append(mws, l.wrap...)
	return middleware.Apply(stage, mws...), nil
}

// Policy converts the YAML retry settings into a retry policy.
// MaxAttempts counts the first attempt. A multiplier above 1 selects
// exponential backoff with jitter; otherwise the delay stays fixed.
func (rc *RetryConfig) Policy() (retry.Policy, error) {
	delay, err := time.ParseDuration(rc.Delay)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("parse retry delay: %w", err)
	}
	var maxDelay time.Duration
	if rc.MaxDelay != "" {
		if maxDelay, err = time.ParseDuration(rc.MaxDelay); err != nil {
			return retry.Policy{}, fmt.Errorf("parse retry max_delay: %w", err)
		}
	}

	if rc.Multiplier <= 1 {
		p := retry.Linear(rc.MaxAttempts-1, delay)
		if maxDelay > 0 {
			p.MaxDelay = maxDelay
		}
		return p, nil
	}
	p := retry.Exponential(rc.MaxAttempts - 1)
	p.InitialDelay = delay
	p.Multiplier = rc.Multiplier
	if maxDelay > 0 {
		p.MaxDelay = maxDelay
	}
	return p, nil
}

// policyStage overrides the fault policy of the stage it wraps.
type policyStage struct {
	screenflow.Stage
	policy screenflow.FaultPolicy
}

func (s *policyStage) Policy() screenflow.FaultPolicy { return s.policy }

func sortedTypes(m map[string]StageBuilder) []string {
	types := make([]string, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
