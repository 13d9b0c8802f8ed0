package screenflow

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrBuild wraps every fault found while building a graph.
	ErrBuild = errors.New("screenflow: invalid graph")

	// ErrNoStartNode is returned when a graph has no entry stage defined.
	ErrNoStartNode = errors.New("screenflow: no start stage defined")

	// ErrNodeNotFound is returned when an edge references a stage that was never registered.
	ErrNodeNotFound = errors.New("screenflow: stage not found")

	// ErrNoSuccessor is returned when a registered stage has no outgoing edge.
	ErrNoSuccessor = errors.New("screenflow: stage has no successor")

	// ErrUnreachable is returned when a registered stage cannot be reached from the entry stage.
	ErrUnreachable = errors.New("screenflow: stage unreachable from start")

	// ErrMissingTerminal is returned when no path from the entry stage reaches End.
	ErrMissingTerminal = errors.New("screenflow: terminal marker unreachable")

	// ErrCycle is returned when the graph loops anywhere other than the retry edge.
	ErrCycle = errors.New("screenflow: cycle outside the retry edge")

	// ErrAccumulatorInLoop is returned when a stage re-run by the retry edge writes an accumulator field.
	ErrAccumulatorInLoop = errors.New("screenflow: accumulator field written inside retry span")

	// ErrUnknownField is returned when a stage or update names a field the schema does not declare.
	ErrUnknownField = errors.New("screenflow: unknown field")

	// ErrUnknownMergeClass is returned when a field declares a merge class other than Overwrite or Accumulate.
	ErrUnknownMergeClass = errors.New("screenflow: unknown merge class")

	// ErrMergeType is returned when an accumulator update is not a slice of the field's element type.
	ErrMergeType = errors.New("screenflow: accumulator type mismatch")

	// ErrFieldCleared is returned when an update sets an already populated field to nil.
	ErrFieldCleared = errors.New("screenflow: populated field cleared")

	// ErrMissingInput is returned when a required input field is absent from the initial state.
	ErrMissingInput = errors.New("screenflow: missing required input")

	// ErrUndeclaredWrite is returned when a stage returns a field outside its declared write set.
	ErrUndeclaredWrite = errors.New("screenflow: undeclared write")

	// ErrStepLimit is returned when a run exceeds the defensive step ceiling.
	ErrStepLimit = errors.New("screenflow: step limit exceeded")
)

// StageError reports a stage failure together with the stage that raised it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// buildError wraps a build-time fault so callers can match it with errors.Is(err, ErrBuild).
func buildError(err error) error {
	return fmt.Errorf("%w: %w", ErrBuild, err)
}
