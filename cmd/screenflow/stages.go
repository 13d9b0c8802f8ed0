package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	goyaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/agentstation/screenflow/builtin"
	"github.com/agentstation/screenflow/internal/config"
	"github.com/agentstation/screenflow/screening"
	"github.com/agentstation/screenflow/yaml"
)

func newStagesCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stages [type]",
		Short: "List the stage types a pipeline definition can use",
		Example: `  # All stage types
  screenflow stages

  # Configuration and examples of one type
  screenflow stages jsonpath`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			types := stageTypes()
			if len(args) == 1 {
				i := slices.IndexFunc(types, func(m builtin.Metadata) bool { return m.Type == args[0] })
				if i < 0 {
					return fmt.Errorf("stage type '%s' not found", args[0])
				}
				if cfg.Output != config.OutputText {
					return writeStructured(cmd.OutOrStdout(), cfg.Output, types[i])
				}
				return writeStageInfo(cmd.OutOrStdout(), types[i])
			}
			if cfg.Output != config.OutputText {
				return writeStructured(cmd.OutOrStdout(), cfg.Output, types)
			}
			return writeStageTable(cmd.OutOrStdout(), types)
		},
	}
}

// stageTypes returns the built-in types and the screening type, sorted by
// category then type.
func stageTypes() []builtin.Metadata {
	types := builtin.RegisterAll(yaml.NewLoader()).All()
	types = append(types, builtin.Metadata{
		Type:        screening.StageType,
		Category:    "screening",
		Description: "One of the resume-screening stages, selected by stage name",
		ConfigSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	})
	slices.SortFunc(types, func(a, b builtin.Metadata) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Type, b.Type)
	})
	return types
}

func writeStageTable(w io.Writer, types []builtin.Metadata) error {
	category := ""
	for _, m := range types {
		if m.Category != category {
			category = m.Category
			fmt.Fprintf(w, "\n%s:\n", strings.ToUpper(category[:1])+category[1:])
			fmt.Fprintln(w, strings.Repeat("-", len(category)+1))
		}
		fmt.Fprintf(w, "  %-12s %s\n", m.Type, m.Description)
	}
	fmt.Fprintf(w, "\nTotal: %d stage types\n", len(types))
	_, err := fmt.Fprintln(w, "\nUse 'screenflow stages <type>' for detailed information about a specific type.")
	return err
}

func writeStageInfo(w io.Writer, m builtin.Metadata) error {
	fmt.Fprintf(w, "Stage Type: %s\n", m.Type)
	fmt.Fprintf(w, "Category: %s\n", m.Category)
	fmt.Fprintf(w, "Description: %s\n", m.Description)
	if m.Since != "" {
		fmt.Fprintf(w, "Since: %s\n", m.Since)
	}

	if len(m.ConfigSchema) > 0 {
		schema, err := json.MarshalIndent(m.ConfigSchema, "  ", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nConfiguration:\n  %s\n", schema)
	}

	if len(m.Examples) > 0 {
		fmt.Fprintln(w, "\nExamples:")
		for i, example := range m.Examples {
			fmt.Fprintf(w, "  %d. %s\n", i+1, example.Name)
			if example.Description != "" {
				fmt.Fprintf(w, "     %s\n", example.Description)
			}
			if len(example.Config) == 0 {
				continue
			}
			data, err := goyaml.Marshal(example.Config)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "     Config:")
			for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
				fmt.Fprintf(w, "       %s\n", line)
			}
		}
	}
	return nil
}
