// Package script provides pipeline stages implemented as sandboxed Lua
// scripts.
//
// A script defines a global function run(state). The state table holds the
// stage's declared reads, normalised through JSON so numbers arrive as
// floats and records as tables. The table run returns is the stage update:
//
//	function run(state)
//	  local words = str_split(state.job_description, " ")
//	  return { job_requirements = { title = words[1] } }
//	end
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/Shopify/go-lua"
	"github.com/mitchellh/mapstructure"

	"github.com/agentstation/screenflow"
)

// ErrNoRun is returned when a script does not define a run function.
var ErrNoRun = errors.New("script: run function not defined")

// Config describes a Lua stage.
type Config struct {
	Name   string
	Source string
	Reads  []string
	Writes []string
	Policy screenflow.FaultPolicy
}

// NewStage compiles cfg.Source and returns a stage that runs it.
func NewStage(cfg Config) (screenflow.Stage, error) {
	if err := Validate(cfg.Source); err != nil {
		return nil, fmt.Errorf("stage %s: %w", cfg.Name, err)
	}
	reads := cfg.Reads

	return screenflow.NewStage(cfg.Name, screenflow.Steps{},
		screenflow.WithPrep(func(_ context.Context, state screenflow.StateReader) (map[string]any, error) {
			return normalise(state, reads)
		}),
		screenflow.WithExec(func(ctx context.Context, in map[string]any) (any, error) {
			return Run(ctx, cfg.Source, in)
		}),
		screenflow.WithPost(func(_ context.Context, state screenflow.StateReader, _ map[string]any, out any) (screenflow.Update, error) {
			switch v := out.(type) {
			case nil:
				return nil, nil
			case map[string]any:
				return retype(state, screenflow.Update(v))
			default:
				return nil, fmt.Errorf("run returned %T, want a table keyed by field name", out)
			}
		}),
		screenflow.WithReads(cfg.Reads...),
		screenflow.WithWrites(cfg.Writes...),
		screenflow.WithPolicy(cfg.Policy),
	), nil
}

// Run executes source in a fresh sandbox and calls run(input).
func Run(ctx context.Context, source string, input map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := newSandbox()
	if err := lua.DoString(l, source); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}
	l.Global("run")
	if l.TypeOf(-1) != lua.TypeFunction {
		return nil, ErrNoRun
	}
	if input == nil {
		input = map[string]any{}
	}
	pushValue(l, input)
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		return nil, fmt.Errorf("run error: %w", err)
	}
	result := pullValue(l, -1)
	l.Pop(1)
	return result, nil
}

// Validate compiles source and checks that it defines run.
func Validate(source string) error {
	l := newSandbox()
	if err := lua.LoadString(l, source); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	l.Pop(1)

	if err := lua.DoString(l, source); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	l.Global("run")
	defer l.Pop(1)
	if l.TypeOf(-1) != lua.TypeFunction {
		return ErrNoRun
	}
	return nil
}

// retype converts array results to the slice type a field already holds, so
// Lua tables can extend typed accumulators. Fields that are still unpopulated
// keep the []any shape.
func retype(state screenflow.StateReader, update screenflow.Update) (screenflow.Update, error) {
	for key, v := range update {
		items, ok := v.([]any)
		if !ok {
			continue
		}
		current, ok := state.Get(key)
		if !ok || current == nil {
			continue
		}
		typ := reflect.TypeOf(current)
		if typ.Kind() != reflect.Slice || typ.Elem().Kind() == reflect.Interface {
			continue
		}
		out := reflect.New(typ)
		if err := mapstructure.Decode(items, out.Interface()); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		update[key] = out.Elem().Interface()
	}
	return update, nil
}

// normalise copies the read fields into a JSON-shaped map.
func normalise(state screenflow.StateReader, reads []string) (map[string]any, error) {
	raw := make(map[string]any, len(reads))
	for _, key := range reads {
		if v, ok := state.Get(key); ok {
			raw[key] = v
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}
