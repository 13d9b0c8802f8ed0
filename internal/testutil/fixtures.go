package testutil

import (
	"context"
	"testing"

	"github.com/agentstation/screenflow"
)

// Field names of the review fixture schema.
const (
	FieldInput    = "input"
	FieldItems    = "items"
	FieldAnalysis = "analysis"
	FieldReview   = "review"
	FieldCounter  = "retry_count"
	FieldReport   = "report"
	FieldErrors   = "errors"
	FieldStep     = "current_step"
)

// ReviewSchema returns a small schema shaped like the screening state:
// one required input, one accumulator, an analysis the loop rewrites and a
// retry counter.
func ReviewSchema(t testing.TB) *screenflow.Schema {
	t.Helper()
	schema, err := screenflow.NewSchema([]screenflow.Field{
		{Name: FieldInput, Class: screenflow.Overwrite, Required: true},
		{Name: FieldItems, Class: screenflow.Accumulate},
		{Name: FieldAnalysis, Class: screenflow.Overwrite},
		{Name: FieldReview, Class: screenflow.Overwrite},
		{Name: FieldCounter, Class: screenflow.Overwrite},
		{Name: FieldReport, Class: screenflow.Overwrite},
		{Name: FieldErrors, Class: screenflow.Accumulate},
		{Name: FieldStep, Class: screenflow.Overwrite},
	}, screenflow.WithErrorField(FieldErrors), screenflow.WithStepField(FieldStep))
	if err != nil {
		t.Fatalf("review schema: %v", err)
	}
	return schema
}

// NewState creates a state from the review schema with the given input.
func NewState(t testing.TB, schema *screenflow.Schema, input string) screenflow.State {
	t.Helper()
	st, err := schema.NewState(screenflow.Update{FieldInput: input})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return st
}

// ReviewStages returns the four stages of the review loop fixture:
// collect -> analyze -> review => {retry: analyze, proceed: report}.
// Review flags the analysis for another pass while needsRetry reports true.
func ReviewStages(needsRetry func(analysisPass int) bool) (collect, analyze, review, report *MockStage) {
	collect = NewMockStage("collect", func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		in, _, _ := screenflow.Lookup[string](s, FieldInput)
		return screenflow.Update{FieldItems: []string{in}}, nil
	}).Reading(FieldInput).Writing(FieldItems)

	analyze = NewMockStage("analyze", nil).Reading(FieldItems).Writing(FieldAnalysis)
	analyze.Fn = func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		return screenflow.Update{FieldAnalysis: analyze.Calls()}, nil
	}

	review = NewMockStage("review", func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		pass, _, _ := screenflow.Lookup[int](s, FieldAnalysis)
		return screenflow.Update{FieldReview: map[string]any{"needs_reanalysis": needsRetry(pass)}}, nil
	}).Reading(FieldAnalysis).Writing(FieldReview)

	report = NewMockStage("report", func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		return screenflow.Update{FieldReport: "done"}, nil
	}).Reading(FieldAnalysis, FieldReview).Writing(FieldReport)

	return collect, analyze, review, report
}

// ReviewRouter is the reflection router for the review fixture.
func ReviewRouter(t testing.TB) screenflow.Router {
	t.Helper()
	needs, err := screenflow.JSONPathPredicate(FieldReview, "$.needs_reanalysis")
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}
	return screenflow.ReflectionRouter{NeedsRetry: needs, Counter: FieldCounter, Ceiling: 2}
}

// ReviewGraph wires the review fixture into a graph with a retry ceiling of 2.
func ReviewGraph(t testing.TB, router screenflow.Router, stages ...screenflow.Stage) *screenflow.Graph {
	t.Helper()
	g, err := screenflow.NewBuilder(ReviewSchema(t)).
		Add(stages...).
		Connect("collect", "analyze").
		Connect("analyze", "review").
		Branch("review", router, screenflow.Outcomes{Retry: "analyze", Proceed: "report"}, FieldCounter, 2).
		Connect("report", screenflow.End).
		Build()
	if err != nil {
		t.Fatalf("build review graph: %v", err)
	}
	return g
}
