package checkpoint_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/checkpoint"
	"github.com/agentstation/screenflow/internal/testutil"
)

func newRedis(t *testing.T, opts ...checkpoint.RedisOption) (*checkpoint.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := checkpoint.NewRedisStoreFromClient(client, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// runStoreContract checks the behavior every Store shares. Values are
// JSON-shaped so both stores return them unchanged.
func runStoreContract(t *testing.T, store checkpoint.Store) {
	ctx := context.Background()

	t.Run("save and load in step order", func(t *testing.T) {
		for step := 1; step <= 3; step++ {
			require.NoError(t, store.Save(ctx, screenflow.Checkpoint{
				RunID:  "run-a",
				Step:   step,
				Stage:  fmt.Sprintf("stage-%d", step),
				Values: map[string]any{"input": "job", "step": float64(step)},
			}))
		}

		cps, err := store.Load(ctx, "run-a")
		require.NoError(t, err)
		require.Len(t, cps, 3)
		for i, cp := range cps {
			assert.Equal(t, i+1, cp.Step)
			assert.Equal(t, "run-a", cp.RunID)
			assert.Equal(t, map[string]any{"input": "job", "step": float64(i + 1)}, cp.Values)
		}

		latest, err := checkpoint.Latest(ctx, store, "run-a")
		require.NoError(t, err)
		assert.Equal(t, "stage-3", latest.Stage)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		assert.ErrorIs(t, err, checkpoint.ErrRunNotFound)
		_, err = checkpoint.Latest(ctx, store, "missing")
		assert.ErrorIs(t, err, checkpoint.ErrRunNotFound)
	})

	t.Run("runs and delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, screenflow.Checkpoint{RunID: "run-b", Step: 1, Stage: "s"}))
		runs, err := store.Runs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"run-a", "run-b"}, runs)

		require.NoError(t, store.Delete(ctx, "run-a"))
		_, err = store.Load(ctx, "run-a")
		assert.ErrorIs(t, err, checkpoint.ErrRunNotFound)
		runs, err = store.Runs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"run-b"}, runs)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, checkpoint.NewMemoryStore())
}

func TestRedisStoreContract(t *testing.T) {
	store, _ := newRedis(t)
	runStoreContract(t, store)
}

func TestMemoryStoreEviction(t *testing.T) {
	ctx := context.Background()
	var evicted []string
	store := checkpoint.NewMemoryStore(
		checkpoint.WithMaxRuns(2),
		checkpoint.WithEvictionCallback(func(id string) { evicted = append(evicted, id) }),
	)

	require.NoError(t, store.Save(ctx, screenflow.Checkpoint{RunID: "a", Step: 1}))
	require.NoError(t, store.Save(ctx, screenflow.Checkpoint{RunID: "b", Step: 1}))
	// Writing a again makes b the least recently written run.
	require.NoError(t, store.Save(ctx, screenflow.Checkpoint{RunID: "a", Step: 2}))
	require.NoError(t, store.Save(ctx, screenflow.Checkpoint{RunID: "c", Step: 1}))

	assert.Equal(t, []string{"b"}, evicted)
	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, runs)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	values := map[string]any{"input": "job"}
	require.NoError(t, store.Save(ctx, screenflow.Checkpoint{RunID: "a", Step: 1, Values: values}))
	values["input"] = "changed"

	cps, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "job", cps[0].Values["input"])
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedis(t, checkpoint.WithTTL(time.Minute), checkpoint.WithPrefix("test:"))

	require.NoError(t, store.Save(ctx, screenflow.Checkpoint{RunID: "r", Step: 1}))
	assert.True(t, mr.Exists("test:r"))
	assert.Equal(t, time.Minute, mr.TTL("test:r"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Load(ctx, "r")
	assert.ErrorIs(t, err, checkpoint.ErrRunNotFound)
}

func TestRedisStoreSaveFailure(t *testing.T) {
	store, mr := newRedis(t)
	mr.Close()
	err := store.Save(context.Background(), screenflow.Checkpoint{RunID: "r", Step: 1})
	assert.ErrorContains(t, err, "failed to save to redis")
}

func TestEngineCheckpointsEveryStep(t *testing.T) {
	store, _ := newRedis(t)
	collect, analyze, review, report := testutil.ReviewStages(func(pass int) bool { return pass == 1 })
	g := testutil.ReviewGraph(t, testutil.ReviewRouter(t), collect, analyze, review, report)

	engine := screenflow.NewEngine(g,
		screenflow.WithCheckpointer(store),
		screenflow.WithRunID(func() string { return "run-1" }),
	)
	_, err := engine.Execute(context.Background(), testutil.NewState(t, g.Schema(), "resume"))
	require.NoError(t, err)

	cps, err := store.Load(context.Background(), "run-1")
	require.NoError(t, err)
	var stages []string
	for i, cp := range cps {
		assert.Equal(t, i+1, cp.Step)
		stages = append(stages, cp.Stage)
	}
	assert.Equal(t, []string{"collect", "analyze", "review", "analyze", "review", "report"}, stages)

	last := cps[len(cps)-1].Values
	assert.Equal(t, "report", last[testutil.FieldStep])
	assert.Equal(t, "done", last[testutil.FieldReport])
	assert.Equal(t, float64(1), last[testutil.FieldCounter])
	assert.Equal(t, []any{"resume"}, last[testutil.FieldItems])
}
