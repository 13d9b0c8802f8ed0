package screenflow

import (
	"errors"
	"fmt"
)

// MergeClass declares how a stage update to a field combines with the value already in state.
type MergeClass int

const (
	// Overwrite replaces the prior value with the update.
	Overwrite MergeClass = iota + 1

	// Accumulate appends the update (a slice) to the prior sequence.
	Accumulate
)

func (c MergeClass) String() string {
	switch c {
	case Overwrite:
		return "overwrite"
	case Accumulate:
		return "accumulate"
	default:
		return fmt.Sprintf("MergeClass(%d)", int(c))
	}
}

// ParseMergeClass converts the textual form used in graph definitions.
func ParseMergeClass(s string) (MergeClass, error) {
	switch s {
	case "overwrite":
		return Overwrite, nil
	case "accumulate", "accumulator":
		return Accumulate, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMergeClass, s)
	}
}

// Field declares one entry of the shared state.
type Field struct {
	Name        string
	Class       MergeClass
	Required    bool
	Description string
}

// Schema is the declared set of state fields and their merge classes.
// A schema is immutable once built and safe to share between invocations.
type Schema struct {
	fields     map[string]Field
	order      []string
	errorField string
	stepField  string
}

// SchemaOption configures a Schema.
type SchemaOption func(*Schema)

// WithErrorField names the accumulator that receives tolerated stage faults.
func WithErrorField(name string) SchemaOption {
	return func(s *Schema) {
		s.errorField = name
	}
}

// WithStepField names the overwrite field the engine sets to the stage being run.
func WithStepField(name string) SchemaOption {
	return func(s *Schema) {
		s.stepField = name
	}
}

// NewSchema validates the field declarations and returns a schema.
func NewSchema(fields []Field, opts ...SchemaOption) (*Schema, error) {
	s := &Schema{
		fields: make(map[string]Field, len(fields)),
		order:  make([]string, 0, len(fields)),
	}
	for _, opt := range opts {
		opt(s)
	}

	var errs []error
	for _, f := range fields {
		if f.Name == "" {
			errs = append(errs, errors.New("field name is required"))
			continue
		}
		if _, dup := s.fields[f.Name]; dup {
			errs = append(errs, fmt.Errorf("field %q declared twice", f.Name))
			continue
		}
		if f.Class != Overwrite && f.Class != Accumulate {
			errs = append(errs, fmt.Errorf("%w: field %q has %s", ErrUnknownMergeClass, f.Name, f.Class))
			continue
		}
		s.fields[f.Name] = f
		s.order = append(s.order, f.Name)
	}

	if s.errorField != "" {
		if f, ok := s.fields[s.errorField]; !ok {
			errs = append(errs, fmt.Errorf("%w: error field %q", ErrUnknownField, s.errorField))
		} else if f.Class != Accumulate {
			errs = append(errs, fmt.Errorf("error field %q must accumulate", s.errorField))
		}
	}
	if s.stepField != "" {
		if f, ok := s.fields[s.stepField]; !ok {
			errs = append(errs, fmt.Errorf("%w: step field %q", ErrUnknownField, s.stepField))
		} else if f.Class != Overwrite {
			errs = append(errs, fmt.Errorf("step field %q must overwrite", s.stepField))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, buildError(err)
	}
	return s, nil
}

// Field returns the declaration for name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns the declarations in the order they were given.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// ErrorField returns the tolerated-fault accumulator, or "" if none is configured.
func (s *Schema) ErrorField() string { return s.errorField }

// StepField returns the current-stage marker field, or "" if none is configured.
func (s *Schema) StepField() string { return s.stepField }
