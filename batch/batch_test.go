package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapKeepsOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	got, err := Map(context.Background(), items, func(ctx context.Context, n int) (string, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return fmt.Sprint(n * n), nil
	}, WithConcurrency(3))
	require.NoError(t, err)
	assert.Equal(t, []string{"25", "1", "16", "4", "9"}, got)

	empty, err := Map(context.Background(), []int(nil), func(ctx context.Context, n int) (int, error) { return n, nil })
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMapStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Map(context.Background(), []int{1, 2, 3}, func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	}, WithConcurrency(1))
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "item 1")
}

func TestConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	_, err := Map(context.Background(), make([]int, 20), func(ctx context.Context, _ int) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return 0, nil
	}, WithConcurrency(4))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(4))

	peak.Store(0)
	_, err = Map(context.Background(), make([]int, 5), func(ctx context.Context, _ int) (int, error) {
		n := running.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		running.Add(-1)
		return 0, nil
	}, WithConcurrency(0))
	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load(), "values below one run sequentially")
}

func TestCollect(t *testing.T) {
	outcomes := Collect(context.Background(), []string{"a", "", "c"}, func(ctx context.Context, s string) (string, error) {
		if s == "" {
			return "", errors.New("empty")
		}
		return s + s, nil
	})
	require.Len(t, outcomes, 3)
	assert.Equal(t, "aa", outcomes[0].Value)
	assert.EqualError(t, outcomes[1].Err, "empty")
	assert.Equal(t, "cc", outcomes[2].Value)
	assert.EqualError(t, Errors(outcomes), "item 1: empty")

	assert.NoError(t, Errors(outcomes[:1]))
}

func TestFilter(t *testing.T) {
	got, err := Filter(context.Background(), []int{1, 2, 3, 4, 5, 6}, func(ctx context.Context, n int) (bool, error) {
		return n%2 == 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, got)
}
