package yaml_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/internal/testutil"
	"github.com/agentstation/screenflow/yaml"
)

const reviewLoop = `
name: review
start: collect
error_field: errors
fields:
  - {name: input, class: overwrite, required: true}
  - {name: items, class: accumulate}
  - {name: analysis, class: overwrite}
  - {name: review, class: overwrite}
  - {name: retry_count, class: overwrite}
  - {name: report, class: overwrite}
  - {name: errors, class: accumulate}
stages:
  - {name: collect, type: mock, reads: [input], writes: [items]}
  - {name: analyze, type: mock, reads: [items], writes: [analysis]}
  - {name: review, type: mock, reads: [analysis], writes: [review]}
  - {name: report, type: mock, policy: collect, writes: [report]}
connections:
  - {from: collect, to: analyze}
  - {from: analyze, to: review}
  - {from: report, to: end}
decision:
  stage: review
  counter: retry_count
  flag: {field: review, path: $.needs_reanalysis}
  outcomes: {retry: analyze, proceed: report}
`

// mockLoader registers a "mock" type whose stages return updates from fns.
func mockLoader(fns map[string]func(context.Context, screenflow.StateReader) (screenflow.Update, error)) *yaml.Loader {
	loader := yaml.NewLoader()
	loader.RegisterStageType("mock", func(def *yaml.StageDefinition) (screenflow.Stage, error) {
		return testutil.NewMockStage(def.Name, fns[def.Name]).Reading(def.Reads...).Writing(def.Writes...), nil
	})
	return loader
}

func TestParseExample(t *testing.T) {
	p := yaml.NewParser()
	def, err := p.ParseString(yaml.Example())
	require.NoError(t, err)

	assert.Equal(t, "review_loop", def.Name)
	assert.Equal(t, "collect", def.Start)
	assert.Equal(t, "errors", def.ErrorField)
	assert.Len(t, def.Fields, 8)
	require.Len(t, def.Stages, 4)
	assert.Equal(t, "lua", def.Stages[0].Type)
	assert.Contains(t, def.Stages[0].Script, "function run(state)")
	assert.Equal(t, "5s", def.Stages[1].Timeout)
	require.NotNil(t, def.Stages[3].Retry)
	assert.Equal(t, 2, def.Stages[3].Retry.MaxAttempts)
	assert.Equal(t, yaml.Connection{From: "report", To: yaml.Terminal}, def.Connections[2])

	require.NotNil(t, def.Decision)
	assert.Equal(t, 2, def.Decision.CeilingOrDefault())
	assert.Equal(t, "$.needs_reanalysis", def.Decision.Flag.Path)
	assert.Equal(t, yaml.OutcomesDefinition{Retry: "analyze", Proceed: "report"}, def.Decision.Outcomes)

	out, err := p.Marshal(def)
	require.NoError(t, err)
	again, err := p.ParseBytes(out)
	require.NoError(t, err)
	assert.Equal(t, def, again)
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing name",
			doc:  "fields: [{name: a, class: overwrite}]\nstages: [{name: s, type: lua}]\n",
			want: "name",
		},
		{
			name: "unknown merge class",
			doc:  "name: g\nfields: [{name: a, class: append}]\nstages: [{name: s, type: lua}]\n",
			want: "class",
		},
		{
			name: "unknown top-level key",
			doc:  "name: g\nnodes: []\nfields: [{name: a, class: overwrite}]\nstages: [{name: s, type: lua}]\n",
			want: "nodes",
		},
		{
			name: "unknown policy",
			doc:  "name: g\nfields: [{name: a, class: overwrite}]\nstages: [{name: s, type: lua, policy: ignore}]\n",
			want: "policy",
		},
		{
			name: "retry without delay",
			doc:  "name: g\nfields: [{name: a, class: overwrite}]\nstages: [{name: s, type: lua, retry: {max_attempts: 2}}]\n",
			want: "delay",
		},
		{
			name: "negative ceiling",
			doc: "name: g\nfields: [{name: a, class: overwrite}]\nstages: [{name: s, type: lua}]\n" +
				"decision: {stage: s, counter: a, ceiling: -1, flag: {field: a, path: $.x}, outcomes: {retry: s, proceed: end}}\n",
			want: "ceiling",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := yaml.ValidateDocument([]byte(tt.doc))
			var verr *yaml.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.NotEmpty(t, verr.Problems)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, yaml.ValidateDocument([]byte(reviewLoop)))
}

func TestDefinitionValidate(t *testing.T) {
	negative := -1
	base := func() *yaml.Definition {
		return &yaml.Definition{
			Name:   "g",
			Fields: []yaml.FieldDefinition{{Name: "a", Class: "overwrite"}},
			Stages: []yaml.StageDefinition{{Name: "s", Type: "lua"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(d *yaml.Definition)
		want   string
	}{
		{"duplicate stage", func(d *yaml.Definition) { d.Stages = append(d.Stages, d.Stages[0]) }, "defined twice"},
		{"reserved name", func(d *yaml.Definition) { d.Stages[0].Name = yaml.Terminal }, "reserved"},
		{"bad timeout", func(d *yaml.Definition) { d.Stages[0].Timeout = "soon" }, "invalid timeout"},
		{"bad policy", func(d *yaml.Definition) { d.Stages[0].Policy = "ignore" }, "unknown fault policy"},
		{"bad retry", func(d *yaml.Definition) { d.Stages[0].Retry = &yaml.RetryConfig{MaxAttempts: 2, Delay: "x"} }, "invalid delay"},
		{"negative ceiling", func(d *yaml.Definition) {
			d.Decision = &yaml.DecisionDefinition{
				Stage: "s", Counter: "a", Ceiling: &negative,
				Flag:     yaml.FlagDefinition{Field: "a", Path: "$.x"},
				Outcomes: yaml.OutcomesDefinition{Retry: "s", Proceed: "end"},
			}
		}, "negative"},
		{"no stages", func(d *yaml.Definition) { d.Stages = nil }, "at least one stage"},
	}

	require.NoError(t, base().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(d)
			assert.ErrorContains(t, d.Validate(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	g, err := mockLoader(nil).LoadString(reviewLoop)
	require.NoError(t, err)

	assert.Equal(t, "collect", g.Start())
	assert.Equal(t, []string{"collect", "analyze", "review", "report"}, g.Stages())
	next, ok := g.Successor("report")
	require.True(t, ok)
	assert.Equal(t, screenflow.End, next)

	d, ok := g.Decision()
	require.True(t, ok)
	assert.Equal(t, screenflow.Decision{
		Stage:    "review",
		Outcomes: screenflow.Outcomes{Retry: "analyze", Proceed: "report"},
		Counter:  "retry_count",
		Ceiling:  yaml.DefaultCeiling,
	}, d)

	report, ok := g.Stage("report")
	require.True(t, ok)
	assert.Equal(t, screenflow.CollectAndContinue, report.Policy())
	assert.Equal(t, "errors", g.Schema().ErrorField())
}

func TestLoadRunsDecision(t *testing.T) {
	loader := mockLoader(map[string]func(context.Context, screenflow.StateReader) (screenflow.Update, error){
		"review": func(context.Context, screenflow.StateReader) (screenflow.Update, error) {
			return screenflow.Update{"review": map[string]any{"needs_reanalysis": true}}, nil
		},
	})
	g, err := loader.LoadString(reviewLoop)
	require.NoError(t, err)

	initial, err := g.Schema().NewState(screenflow.Update{"input": "resume"})
	require.NoError(t, err)
	rec := &screenflow.Recorder{}
	final, err := screenflow.NewEngine(g, screenflow.WithObserver(rec)).Execute(context.Background(), initial)
	require.NoError(t, err)

	assert.Len(t, rec.OfType(screenflow.EventRoute), 3)
	count, _ := final.Get("retry_count")
	assert.Equal(t, 2, count)
}

func TestLoadFaults(t *testing.T) {
	t.Run("unknown stage type", func(t *testing.T) {
		_, err := yaml.NewLoader().LoadString(reviewLoop)
		assert.ErrorContains(t, err, `unknown stage type "mock"`)
	})

	t.Run("builder error", func(t *testing.T) {
		loader := yaml.NewLoader()
		loader.RegisterStageType("mock", func(def *yaml.StageDefinition) (screenflow.Stage, error) {
			return nil, errors.New("no collaborator")
		})
		_, err := loader.LoadString(reviewLoop)
		assert.ErrorContains(t, err, "create stage collect: no collaborator")
	})

	t.Run("builder renames the stage", func(t *testing.T) {
		loader := yaml.NewLoader()
		loader.RegisterStageType("mock", func(def *yaml.StageDefinition) (screenflow.Stage, error) {
			return testutil.NewMockStage("other", nil), nil
		})
		_, err := loader.LoadString(reviewLoop)
		assert.ErrorContains(t, err, `returned stage "other"`)
	})

	t.Run("graph faults", func(t *testing.T) {
		def, err := yaml.NewParser().ParseString(reviewLoop)
		require.NoError(t, err)
		def.Connections = append(def.Connections, yaml.Connection{From: "collect", To: "ghost"})
		_, err = mockLoader(nil).Load(def)
		assert.ErrorIs(t, err, screenflow.ErrBuild)
		assert.ErrorIs(t, err, screenflow.ErrNodeNotFound)
	})

	t.Run("bad flag path", func(t *testing.T) {
		def, err := yaml.NewParser().ParseString(reviewLoop)
		require.NoError(t, err)
		def.Decision.Flag.Path = "$.["
		_, err = mockLoader(nil).Load(def)
		assert.ErrorContains(t, err, "decision flag")
	})

	t.Run("invalid document", func(t *testing.T) {
		_, err := mockLoader(nil).LoadString("name: g\n")
		var verr *yaml.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestLoadStageRetry(t *testing.T) {
	var calls atomic.Int32
	loader := yaml.NewLoader()
	loader.RegisterStageType("flaky", func(def *yaml.StageDefinition) (screenflow.Stage, error) {
		return screenflow.StageFunc(def.Name, func(context.Context, screenflow.StateReader) (screenflow.Update, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return screenflow.Update{"out": "ok"}, nil
		}, screenflow.WithWrites("out")), nil
	})

	g, err := loader.LoadString(`
name: flaky
fields: [{name: out, class: overwrite}]
stages:
  - name: fetch
    type: flaky
    timeout: 1s
    retry: {max_attempts: 3, delay: 1ms}
connections: [{from: fetch, to: end}]
`)
	require.NoError(t, err)

	final, err := screenflow.NewEngine(g).Execute(context.Background(), screenflow.State{})
	require.NoError(t, err)
	out, _ := final.Get("out")
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reviewLoop), 0o600))

	g, err := mockLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, g.Stages(), 4)

	_, err = mockLoader(nil).LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "open file")
}

func TestRetryConfigPolicy(t *testing.T) {
	rc := &yaml.RetryConfig{MaxAttempts: 3, Delay: "100ms", MaxDelay: "1s"}
	p, err := rc.Policy()
	require.NoError(t, err)
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, 1.0, p.Multiplier)
	assert.Equal(t, "1s", p.MaxDelay.String())
	assert.False(t, p.Jitter)

	rc = &yaml.RetryConfig{MaxAttempts: 4, Delay: "50ms", Multiplier: 3}
	p, err = rc.Policy()
	require.NoError(t, err)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 3.0, p.Multiplier)
	assert.Equal(t, 30*time.Second, p.MaxDelay, "exponential backoff keeps its default cap")
	assert.True(t, p.Jitter)
}
