package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGraphCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "graph [file]",
		Short: "Print a pipeline as a Mermaid flowchart",
		Example: `  # The built-in screening pipeline
  screenflow graph

  # A custom definition
  screenflow graph pipeline.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			path := cfg.Pipeline
			if len(args) == 1 {
				path = args[0]
			}
			g, err := loadGraph(newLoader(cfg), path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), g.Mermaid())
			return err
		},
	}
}
