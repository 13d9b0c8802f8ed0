package screenflow_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/internal/testutil"
)

func TestExecuteBatchIsolation(t *testing.T) {
	ctx := context.Background()
	collect, analyze, review, report := testutil.ReviewStages(func(pass int) bool { return false })
	collect.Fn = func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		in, _, _ := screenflow.Lookup[string](s, testutil.FieldInput)
		if in == "bad" {
			return nil, testutil.ErrBoom
		}
		return screenflow.Update{testutil.FieldItems: []string{in}}, nil
	}
	g := testutil.ReviewGraph(t, testutil.ReviewRouter(t), collect, analyze, review, report)

	var inputs []screenflow.State
	for i := range 8 {
		in := fmt.Sprintf("job-%d", i)
		if i == 3 {
			in = "bad"
		}
		inputs = append(inputs, testutil.NewState(t, g.Schema(), in))
	}

	results := screenflow.NewEngine(g).ExecuteBatch(ctx, inputs, 3)
	require.Len(t, results, len(inputs))
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		if i == 3 {
			assert.ErrorIs(t, r.Err, testutil.ErrBoom)
			continue
		}
		require.NoError(t, r.Err)
		items, _, err := screenflow.Lookup[[]string](r.State, testutil.FieldItems)
		require.NoError(t, err)
		assert.Equal(t, []string{fmt.Sprintf("job-%d", i)}, items, "invocations never share state")
	}
}
