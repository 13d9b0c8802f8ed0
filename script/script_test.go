package script

import (
	"context"
	"testing"

	"github.com/Shopify/go-lua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/internal/testutil"
)

func TestPushPullValue(t *testing.T) {
	l := lua.NewState()

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"int becomes float", 42, float64(42)},
		{"float", 3.5, 3.5},
		{"string", "hello", "hello"},
		{"array", []any{"a", "b"}, []any{"a", "b"}},
		{"map", map[string]any{"key": "value", "n": 1.0}, map[string]any{"key": "value", "n": 1.0}},
		{"nested", map[string]any{"tags": []any{"go"}}, map[string]any{"tags": []any{"go"}}},
		{"empty table is a map", []any{}, map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pushValue(l, tt.value)
			got := pullValue(l, -1)
			l.Pop(1)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, l.Top())
		})
	}
}

func TestSandbox(t *testing.T) {
	src := `
function run(state)
  return {
    execute = type_of(os.execute),
    getenv = type_of(os.getenv),
    dofile = type_of(dofile),
    require = type_of(require),
    upper = type_of(string.upper),
  }
end`
	got, err := Run(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"execute": "nil",
		"getenv":  "nil",
		"dofile":  "nil",
		"require": "nil",
		"upper":   "function",
	}, got)
}

func TestHelpers(t *testing.T) {
	src := `
function run(state)
  local parts = str_split(state.skills, ",")
  local decoded = json_decode('{"level":"senior"}')
  return {
    first = str_trim(parts[2]),
    count = #parts,
    has_go = str_contains(state.skills, "go"),
    replaced = str_replace(state.skills, ",", ";", 1),
    level = decoded.level,
    encoded = json_encode({ ok = true }),
  }
end`
	got, err := Run(context.Background(), src, map[string]any{"skills": "go, rust,lua"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"first":    "rust",
		"count":    3.0,
		"has_go":   true,
		"replaced": "go; rust,lua",
		"level":    "senior",
		"encoded":  `{"ok":true}`,
	}, got)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(`function run(s) return {} end`))
	assert.ErrorIs(t, Validate(`x = 1`), ErrNoRun)
	assert.ErrorContains(t, Validate(`function run(`), "compile")
}

func TestRunErrors(t *testing.T) {
	_, err := Run(context.Background(), `function run(s) error("bad resume") end`, nil)
	assert.ErrorContains(t, err, "bad resume")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, `function run(s) return {} end`, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStage(t *testing.T) {
	schema := testutil.ReviewSchema(t)
	st := testutil.NewState(t, schema, "senior go engineer")

	s, err := NewStage(Config{
		Name:   "shout",
		Source: `function run(state) return { report = string.upper(state.input) } end`,
		Reads:  []string{testutil.FieldInput},
		Writes: []string{testutil.FieldReport},
		Policy: screenflow.CollectAndContinue,
	})
	require.NoError(t, err)
	assert.Equal(t, "shout", s.Name())
	assert.Equal(t, []string{testutil.FieldInput}, s.Reads())
	assert.Equal(t, []string{testutil.FieldReport}, s.Writes())
	assert.Equal(t, screenflow.CollectAndContinue, s.Policy())

	update, err := s.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, screenflow.Update{testutil.FieldReport: "SENIOR GO ENGINEER"}, update)

	merged, err := schema.Merge(st, update)
	require.NoError(t, err)
	report, _, err := screenflow.Lookup[string](merged, testutil.FieldReport)
	require.NoError(t, err)
	assert.Equal(t, "SENIOR GO ENGINEER", report)
}

func TestStageExtendsTypedAccumulator(t *testing.T) {
	schema := testutil.ReviewSchema(t)
	st, err := schema.Merge(testutil.NewState(t, schema, "job"), screenflow.Update{testutil.FieldItems: []string{"go"}})
	require.NoError(t, err)

	s, err := NewStage(Config{
		Name:   "tags",
		Source: `function run(state) return { items = { "kafka", "sql" } } end`,
		Writes: []string{testutil.FieldItems},
	})
	require.NoError(t, err)

	update, err := s.Run(context.Background(), st)
	require.NoError(t, err)
	merged, err := schema.Merge(st, update)
	require.NoError(t, err)
	items, _, err := screenflow.Lookup[[]string](merged, testutil.FieldItems)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "kafka", "sql"}, items)

	bad, err := NewStage(Config{
		Name:   "nested",
		Source: `function run(state) return { items = { { a = 1 } } } end`,
		Writes: []string{testutil.FieldItems},
	})
	require.NoError(t, err)
	_, err = bad.Run(context.Background(), st)
	assert.ErrorContains(t, err, `field "items"`)
}

func TestStageOnlySeesReads(t *testing.T) {
	schema := testutil.ReviewSchema(t)
	st, err := schema.Merge(testutil.NewState(t, schema, "job"), screenflow.Update{testutil.FieldAnalysis: 7})
	require.NoError(t, err)

	s, err := NewStage(Config{
		Name:   "peek",
		Source: `function run(state) return { report = type_of(state.input) .. "/" .. type_of(state.analysis) } end`,
		Reads:  []string{testutil.FieldAnalysis},
		Writes: []string{testutil.FieldReport},
	})
	require.NoError(t, err)

	update, err := s.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, screenflow.Update{testutil.FieldReport: "nil/number"}, update)
}

func TestStageRejectsNonTable(t *testing.T) {
	s, err := NewStage(Config{Name: "bad", Source: `function run(state) return "text" end`})
	require.NoError(t, err)
	_, err = s.Run(context.Background(), testutil.NewState(t, testutil.ReviewSchema(t), "job"))
	assert.ErrorContains(t, err, "want a table")

	_, err = NewStage(Config{Name: "missing", Source: `local x = 1`})
	assert.ErrorIs(t, err, ErrNoRun)
}
