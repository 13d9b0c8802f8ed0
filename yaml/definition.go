// Package yaml provides YAML-based graph definitions for screenflow.
//
// A definition declares the state fields, the stages (by registered type),
// the linear connections and at most one decision with its retry ceiling.
// The connection target "end" is the terminal marker.
package yaml

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentstation/screenflow"
)

// Terminal is the connection target that finishes a run.
const Terminal = "end"

// DefaultCeiling is the retry ceiling used when a decision omits one.
const DefaultCeiling = 2

// Definition represents a complete graph defined in YAML.
type Definition struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string              `yaml:"version,omitempty" json:"version,omitempty"`
	Start       string              `yaml:"start,omitempty" json:"start,omitempty"`
	ErrorField  string              `yaml:"error_field,omitempty" json:"error_field,omitempty"`
	StepField   string              `yaml:"step_field,omitempty" json:"step_field,omitempty"`
	Fields      []FieldDefinition   `yaml:"fields" json:"fields"`
	Stages      []StageDefinition   `yaml:"stages" json:"stages"`
	Connections []Connection        `yaml:"connections,omitempty" json:"connections,omitempty"`
	Decision    *DecisionDefinition `yaml:"decision,omitempty" json:"decision,omitempty"`
}

// FieldDefinition declares one state field.
type FieldDefinition struct {
	Name        string `yaml:"name" json:"name"`
	Class       string `yaml:"class" json:"class"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// StageDefinition represents a stage in YAML format.
type StageDefinition struct {
	Name        string         `yaml:"name" json:"name"`
	Type        string         `yaml:"type" json:"type"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Policy      string         `yaml:"policy,omitempty" json:"policy,omitempty"`
	Reads       []string       `yaml:"reads,omitempty" json:"reads,omitempty"`
	Writes      []string       `yaml:"writes,omitempty" json:"writes,omitempty"`
	Retry       *RetryConfig   `yaml:"retry,omitempty" json:"retry,omitempty"`
	Timeout     string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Script      string         `yaml:"script,omitempty" json:"script,omitempty"`
	Config      map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Connection is a linear edge between stages.
type Connection struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// DecisionDefinition declares the conditional edge and its retry ceiling.
type DecisionDefinition struct {
	Stage    string             `yaml:"stage" json:"stage"`
	Counter  string             `yaml:"counter" json:"counter"`
	Ceiling  *int               `yaml:"ceiling,omitempty" json:"ceiling,omitempty"`
	Flag     FlagDefinition     `yaml:"flag" json:"flag"`
	Outcomes OutcomesDefinition `yaml:"outcomes" json:"outcomes"`
}

// FlagDefinition locates the boolean that requests a retry.
type FlagDefinition struct {
	Field string `yaml:"field" json:"field"`
	Path  string `yaml:"path" json:"path"`
}

// OutcomesDefinition names the successor of each outcome.
type OutcomesDefinition struct {
	Retry   string `yaml:"retry" json:"retry"`
	Proceed string `yaml:"proceed" json:"proceed"`
}

// RetryConfig represents stage-level retry configuration in YAML.
// It re-runs a failing stage and is unrelated to the decision's retry edge.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	Delay       string  `yaml:"delay" json:"delay"`
	Multiplier  float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	MaxDelay    string  `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
}

// Validate checks the definition's own consistency. Graph-level faults
// such as reachability and cycles are reported by the graph builder.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("graph name is required"))
	}
	if len(d.Fields) == 0 {
		errs = append(errs, errors.New("at least one field is required"))
	}
	if len(d.Stages) == 0 {
		errs = append(errs, errors.New("at least one stage is required"))
	}

	seen := make(map[string]bool, len(d.Stages))
	for i := range d.Stages {
		sd := &d.Stages[i]
		if sd.Name == "" {
			errs = append(errs, fmt.Errorf("stage %d: name is required", i))
			continue
		}
		if sd.Name == Terminal {
			errs = append(errs, fmt.Errorf("stage name %q is reserved", Terminal))
		}
		if seen[sd.Name] {
			errs = append(errs, fmt.Errorf("stage %s: defined twice", sd.Name))
		}
		seen[sd.Name] = true
		if err := sd.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stage %s: %w", sd.Name, err))
		}
	}

	if d.Decision != nil {
		if err := d.Decision.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("decision: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks if the stage definition is valid.
func (sd *StageDefinition) Validate() error {
	if sd.Type == "" {
		return errors.New("type is required")
	}
	if _, err := screenflow.ParseFaultPolicy(sd.Policy); err != nil {
		return err
	}
	if sd.Timeout != "" {
		if _, err := time.ParseDuration(sd.Timeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}
	if sd.Retry != nil {
		if err := sd.Retry.Validate(); err != nil {
			return fmt.Errorf("invalid retry config: %w", err)
		}
	}
	return nil
}

// Validate checks if the decision definition is valid.
func (dd *DecisionDefinition) Validate() error {
	switch {
	case dd.Stage == "":
		return errors.New("stage is required")
	case dd.Counter == "":
		return errors.New("counter is required")
	case dd.Flag.Field == "" || dd.Flag.Path == "":
		return errors.New("flag field and path are required")
	case dd.Outcomes.Retry == "" || dd.Outcomes.Proceed == "":
		return errors.New("retry and proceed outcomes are required")
	case dd.Ceiling != nil && *dd.Ceiling < 0:
		return fmt.Errorf("ceiling %d is negative", *dd.Ceiling)
	}
	return nil
}

// CeilingOrDefault returns the configured ceiling or DefaultCeiling.
func (dd *DecisionDefinition) CeilingOrDefault() int {
	if dd.Ceiling == nil {
		return DefaultCeiling
	}
	return *dd.Ceiling
}

// Validate checks if the retry config is valid.
func (rc *RetryConfig) Validate() error {
	if rc.MaxAttempts <= 0 {
		return errors.New("max_attempts must be positive")
	}
	if rc.Delay == "" {
		return errors.New("delay is required")
	}
	if _, err := time.ParseDuration(rc.Delay); err != nil {
		return fmt.Errorf("invalid delay: %w", err)
	}
	if rc.MaxDelay != "" {
		if _, err := time.ParseDuration(rc.MaxDelay); err != nil {
			return fmt.Errorf("invalid max_delay: %w", err)
		}
	}
	if rc.Multiplier < 0 {
		return errors.New("multiplier cannot be negative")
	}
	return nil
}

// Schema builds the state schema the definition declares.
func (d *Definition) Schema() (*screenflow.Schema, error) {
	fields := make([]screenflow.Field, 0, len(d.Fields))
	var errs []error
	for _, fd := range d.Fields {
		class, err := screenflow.ParseMergeClass(fd.Class)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", fd.Name, err))
			continue
		}
		fields = append(fields, screenflow.Field{
			Name:        fd.Name,
			Class:       class,
			Required:    fd.Required,
			Description: fd.Description,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var opts []screenflow.SchemaOption
	if d.ErrorField != "" {
		opts = append(opts, screenflow.WithErrorField(d.ErrorField))
	}
	if d.StepField != "" {
		opts = append(opts, screenflow.WithStepField(d.StepField))
	}
	return screenflow.NewSchema(fields, opts...)
}

// target maps the YAML terminal name to the graph's terminal marker.
func target(name string) string {
	if name == Terminal {
		return screenflow.End
	}
	return name
}
