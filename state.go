package screenflow

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/mitchellh/mapstructure"
)

// StateReader provides read-only access to the shared state.
// Stages and routers only ever see this view; the engine is the sole writer.
type StateReader interface {
	// Get retrieves a field value. Unpopulated fields report (nil, false).
	Get(key string) (value any, exists bool)

	// Keys returns the populated field names in sorted order.
	Keys() []string
}

// Update is a partial state returned by a stage: field name to new value.
type Update map[string]any

// State is an immutable snapshot of the shared state container.
// Every merge produces a new State; earlier snapshots are never modified.
type State struct {
	schema *Schema
	values map[string]any
}

// Get retrieves a field value.
func (s State) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the populated field names in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Len returns the length of a sequence field, or 0 when it is unpopulated.
func (s State) Len(key string) int {
	v, ok := s.values[key]
	if !ok || v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return 1
	}
	return rv.Len()
}

// Snapshot returns a shallow copy of the populated fields.
func (s State) Snapshot() map[string]any {
	return maps.Clone(s.values)
}

// Schema returns the schema the state was created from.
func (s State) Schema() *Schema {
	return s.schema
}

// NewState creates the per-invocation container from the input fields.
// Required fields must be present; unknown keys are rejected.
func (s *Schema) NewState(input Update) (State, error) {
	st, err := s.Merge(State{schema: s}, input)
	if err != nil {
		return State{}, err
	}
	if err := s.checkRequired(st); err != nil {
		return State{}, err
	}
	return st, nil
}

// checkRequired reports the first required field st leaves unpopulated.
func (s *Schema) checkRequired(st State) error {
	for _, name := range s.order {
		if !s.fields[name].Required {
			continue
		}
		if v, ok := st.values[name]; !ok || v == nil {
			return fmt.Errorf("%w: %q", ErrMissingInput, name)
		}
	}
	return nil
}

// Merge applies update to current and returns the resulting state.
// Overwrite fields are replaced; accumulator fields are concatenated in order.
// Keys are applied in sorted order so the result never depends on map iteration.
func (s *Schema) Merge(current State, update Update) (State, error) {
	next := make(map[string]any, len(current.values)+len(update))
	maps.Copy(next, current.values)

	for _, key := range slices.Sorted(maps.Keys(update)) {
		field, ok := s.fields[key]
		if !ok {
			return State{}, fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
		value := update[key]

		switch field.Class {
		case Overwrite:
			if value == nil {
				if prior, ok := next[key]; ok && prior != nil {
					return State{}, fmt.Errorf("%w: %q", ErrFieldCleared, key)
				}
				continue
			}
			next[key] = value
		case Accumulate:
			merged, err := appendSequence(next[key], value)
			if err != nil {
				return State{}, fmt.Errorf("field %q: %w", key, err)
			}
			if merged != nil {
				next[key] = merged
			}
		}
	}

	return State{schema: s, values: next}, nil
}

// appendSequence concatenates add onto current into a fresh backing array.
func appendSequence(current, add any) (any, error) {
	if add == nil {
		return current, nil
	}
	av := reflect.ValueOf(add)
	if av.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%w: got %T, want a slice", ErrMergeType, add)
	}

	if current == nil {
		out := reflect.MakeSlice(av.Type(), av.Len(), av.Len())
		reflect.Copy(out, av)
		return out.Interface(), nil
	}

	cv := reflect.ValueOf(current)
	if cv.Type() != av.Type() {
		return nil, fmt.Errorf("%w: have %s, got %s", ErrMergeType, cv.Type(), av.Type())
	}
	out := reflect.MakeSlice(cv.Type(), 0, cv.Len()+av.Len())
	out = reflect.AppendSlice(out, cv)
	out = reflect.AppendSlice(out, av)
	return out.Interface(), nil
}

// Lookup reads a field with a type assertion.
// An unpopulated field returns the zero value and false without error.
func Lookup[T any](r StateReader, key string) (T, bool, error) {
	var zero T
	v, ok := r.Get(key)
	if !ok || v == nil {
		return zero, false, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false, fmt.Errorf("field %q: type mismatch: expected %T, got %T", key, zero, v)
	}
	return typed, true, nil
}

// Decode reads a map-valued sub-record into a struct using mapstructure tags.
func Decode[T any](r StateReader, key string) (T, bool, error) {
	var out T
	v, ok := r.Get(key)
	if !ok || v == nil {
		return out, false, nil
	}
	if typed, ok := v.(T); ok {
		return typed, true, nil
	}
	if err := mapstructure.Decode(v, &out); err != nil {
		return out, false, fmt.Errorf("field %q: %w", key, err)
	}
	return out, true, nil
}
