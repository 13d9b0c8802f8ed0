package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/screenflow/internal/config"
)

func newVersionCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version information about the screenflow CLI.`,
		Example: `  # Show version
  screenflow version

  # Show version in JSON format
  screenflow version --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			if cfg.Output != config.OutputText {
				return writeStructured(cmd.OutOrStdout(), cfg.Output, map[string]string{
					"version":   version,
					"commit":    commit,
					"buildDate": buildDate,
					"goVersion": goVersion,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "screenflow version %s\n", version)
			if version != "dev" {
				fmt.Fprintf(w, "  commit:     %s\n", commit)
				fmt.Fprintf(w, "  built:      %s\n", buildDate)
				fmt.Fprintf(w, "  go version: %s\n", goVersion)
			}
			return nil
		},
	}
}
