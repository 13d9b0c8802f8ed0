// Package checkpoint stores the per-step snapshots an engine records with
// screenflow.WithCheckpointer.
package checkpoint

import (
	"context"
	"errors"

	"github.com/agentstation/screenflow"
)

// ErrRunNotFound is returned when no checkpoint exists for a run.
var ErrRunNotFound = errors.New("checkpoint: run not found")

// Store persists checkpoints and reads them back per run.
type Store interface {
	screenflow.Checkpointer

	// Load returns the checkpoints of a run in step order.
	Load(ctx context.Context, runID string) ([]screenflow.Checkpoint, error)

	// Delete removes every checkpoint of a run.
	Delete(ctx context.Context, runID string) error

	// Runs lists the runs that have checkpoints.
	Runs(ctx context.Context) ([]string, error)
}

// Latest returns the most recent checkpoint of a run.
func Latest(ctx context.Context, s Store, runID string) (screenflow.Checkpoint, error) {
	cps, err := s.Load(ctx, runID)
	if err != nil {
		return screenflow.Checkpoint{}, err
	}
	return cps[len(cps)-1], nil
}
