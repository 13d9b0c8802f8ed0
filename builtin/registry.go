// Package builtin provides the general-purpose stage types a graph
// definition can use: lua scripts, JSONPath extraction, text templates and
// JSON schema validation.
package builtin

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/yaml"
)

// StageBuilder creates stages and provides metadata.
type StageBuilder interface {
	Metadata() Metadata
	Build(def *yaml.StageDefinition) (screenflow.Stage, error)
}

// Registry manages the built-in stage types.
type Registry struct {
	builders map[string]StageBuilder
}

// NewRegistry creates a registry holding every built-in stage type.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]StageBuilder)}
	r.Register(&LuaBuilder{})
	r.Register(&JSONPathBuilder{})
	r.Register(&TemplateBuilder{})
	r.Register(&ValidateBuilder{})
	return r
}

// Register adds a stage builder.
func (r *Registry) Register(builder StageBuilder) {
	r.builders[builder.Metadata().Type] = builder
}

// Get returns a builder by type.
func (r *Registry) Get(stageType string) (StageBuilder, bool) {
	builder, exists := r.builders[stageType]
	return builder, exists
}

// All returns the metadata of every registered type, sorted by type.
func (r *Registry) All() []Metadata {
	out := make([]Metadata, 0, len(r.builders))
	for _, b := range r.builders {
		out = append(out, b.Metadata())
	}
	slices.SortFunc(out, func(a, b Metadata) int { return strings.Compare(a.Type, b.Type) })
	return out
}

// RegisterAll registers all built-in stage types with a YAML loader.
func RegisterAll(loader *yaml.Loader) *Registry {
	registry := NewRegistry()
	for _, builder := range registry.builders {
		loader.RegisterStageType(builder.Metadata().Type, validating(builder))
	}
	return registry
}

// validating wraps a builder with config validation.
func validating(builder StageBuilder) yaml.StageBuilder {
	return func(def *yaml.StageDefinition) (screenflow.Stage, error) {
		meta := builder.Metadata()
		if err := ValidateConfig(&meta, def.Config); err != nil {
			return nil, fmt.Errorf("config validation failed for stage '%s': %w", def.Name, err)
		}
		return builder.Build(def)
	}
}
