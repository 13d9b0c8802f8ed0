/*
Package screenflow runs stage graphs over a shared, schema-checked state.

Key features:
  - A state container whose fields either overwrite or accumulate on merge
  - Stages that read the whole state and return partial updates
  - At most one decision stage, whose bounded retry loop re-runs a span of stages
  - Per-stage fault policies: fail fast, or record the fault and continue
  - Per-step checkpoints and an event stream for observers

Basic usage:

	schema, err := screenflow.NewSchema([]screenflow.Field{
		{Name: "job", Class: screenflow.Overwrite, Required: true},
		{Name: "notes", Class: screenflow.Accumulate},
	})

	intake := screenflow.StageFunc("intake", func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		job, _, err := screenflow.Lookup[string](s, "job")
		return screenflow.Update{"notes": []string{job}}, err
	}, screenflow.WithReads("job"), screenflow.WithWrites("notes"))

	graph, err := screenflow.NewBuilder(schema).
		Add(intake).
		Connect("intake", screenflow.End).
		Build()

	initial, err := schema.NewState(screenflow.Update{"job": "backend engineer"})
	final, err := screenflow.NewEngine(graph).Execute(ctx, initial)

Re-analysis loops:

	needs, err := screenflow.JSONPathPredicate("quality", "$.needs_reanalysis")
	router := screenflow.ReflectionRouter{NeedsRetry: needs, Counter: "reanalysis_count", Ceiling: 2}

	builder.Branch("review", router, screenflow.Outcomes{
		Retry:   "analyze",
		Proceed: "report",
	}, "reanalysis_count", 2)

The engine enforces the ceiling itself: once the counter reaches it, the
decision stage proceeds whatever the router answers.

Typed access:

	scores, ok, err := screenflow.Decode[[]Score](final, "scores")

Graphs can also be loaded from YAML with the yaml package, and the screening
package assembles the resume-screening pipeline from these pieces.
*/
package screenflow
