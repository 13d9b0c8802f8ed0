package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDo(t *testing.T) {
	ctx := context.Background()
	errTransient := errors.New("transient")

	t.Run("succeeds after retries", func(t *testing.T) {
		calls := 0
		err := Linear(3, time.Millisecond).Do(ctx, func() error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Linear(2, time.Millisecond).Do(ctx, func() error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.ErrorContains(t, err, "failed after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("no retry policy runs once", func(t *testing.T) {
		calls := 0
		err := Policy{}.Do(ctx, func() error {
			calls++
			return errTransient
		})
		assert.Equal(t, errTransient, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("non-retryable error stops", func(t *testing.T) {
		p := Linear(5, time.Millisecond)
		p.Retryable = func(err error) bool { return !errors.Is(err, errTransient) }
		calls := 0
		err := p.Do(ctx, func() error {
			calls++
			return errTransient
		})
		assert.Equal(t, errTransient, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Linear(3, time.Hour).Do(cctx, func() error { return errTransient })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestJitterBounds(t *testing.T) {
	p := Exponential(3)
	for range 100 {
		d := p.wait(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}
	assert.Equal(t, time.Second, Linear(1, time.Second).wait(time.Second))
}
