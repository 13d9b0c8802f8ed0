package screenflow_test

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/agentstation/screenflow"
)

// ExampleEngine runs a three-stage graph whose review stage asks for one
// more analysis pass before proceeding.
func ExampleEngine() {
	schema, err := screenflow.NewSchema([]screenflow.Field{
		{Name: "job", Class: screenflow.Overwrite, Required: true},
		{Name: "notes", Class: screenflow.Accumulate},
		{Name: "depth", Class: screenflow.Overwrite},
		{Name: "quality", Class: screenflow.Overwrite},
		{Name: "reanalysis_count", Class: screenflow.Overwrite},
	})
	if err != nil {
		log.Fatal(err)
	}

	intake := screenflow.StageFunc("intake", func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		job, _, err := screenflow.Lookup[string](s, "job")
		return screenflow.Update{"notes": []string{strings.ToUpper(job)}}, err
	}, screenflow.WithReads("job"), screenflow.WithWrites("notes"))

	analyze := screenflow.StageFunc("analyze", func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		depth, _, err := screenflow.Lookup[int](s, "depth")
		return screenflow.Update{"depth": depth + 1}, err
	}, screenflow.WithReads("depth"), screenflow.WithWrites("depth"))

	review := screenflow.StageFunc("review", func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		depth, _, err := screenflow.Lookup[int](s, "depth")
		return screenflow.Update{"quality": map[string]any{"needs_reanalysis": depth < 2}}, err
	}, screenflow.WithReads("depth"), screenflow.WithWrites("quality"))

	needs, err := screenflow.JSONPathPredicate("quality", "$.needs_reanalysis")
	if err != nil {
		log.Fatal(err)
	}
	router := screenflow.ReflectionRouter{NeedsRetry: needs, Counter: "reanalysis_count", Ceiling: 2}

	graph, err := screenflow.NewBuilder(schema).
		Add(intake, analyze, review).
		Connect("intake", "analyze").
		Connect("analyze", "review").
		Branch("review", router, screenflow.Outcomes{Retry: "analyze", Proceed: screenflow.End}, "reanalysis_count", 2).
		Build()
	if err != nil {
		log.Fatal(err)
	}

	input, err := schema.NewState(screenflow.Update{"job": "go engineer"})
	if err != nil {
		log.Fatal(err)
	}
	rec := &screenflow.Recorder{}
	final, err := screenflow.NewEngine(graph, screenflow.WithObserver(rec)).Execute(context.Background(), input)
	if err != nil {
		log.Fatal(err)
	}

	depth, _ := final.Get("depth")
	count, _ := final.Get("reanalysis_count")
	notes, _ := final.Get("notes")
	fmt.Println(strings.Join(rec.Trace(), " -> "))
	fmt.Println(depth, count, notes)
	// Output:
	// intake -> analyze -> review -> analyze -> review
	// 2 1 [GO ENGINEER]
}
