package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/screenflow/yaml"
)

func newValidateCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a pipeline definition",
		Long: `Check a pipeline definition against the document schema, then build it:
every stage type must be known, every edge must resolve and the re-analysis
loop must be well formed.`,
		Example: `  screenflow validate pipeline.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			def, err := yaml.NewParser().ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			g, err := newLoader(cfg).Load(def)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s is valid: %d stages, %d fields, start %s\n",
				args[0], len(g.Stages()), len(g.Schema().Fields()), g.Start())
			if d, ok := g.Decision(); ok {
				fmt.Fprintf(w, "  %s retries %s at most %d times (counter %s)\n",
					d.Stage, d.Outcomes.Retry, d.Ceiling, d.Counter)
			}
			return nil
		},
	}
}
