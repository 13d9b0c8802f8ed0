package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/batch"
	"github.com/agentstation/screenflow/builtin"
	"github.com/agentstation/screenflow/internal/config"
	"github.com/agentstation/screenflow/internal/logging"
	"github.com/agentstation/screenflow/middleware"
	"github.com/agentstation/screenflow/screening"
	"github.com/agentstation/screenflow/yaml"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	output     string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "screenflow",
		Short: "Screen resumes against a job description",
		Long: `Screenflow runs a batch of resumes through the resume-screening pipeline:
job analysis, parsing, tool-driven enrichment, scoring, a self-checking
quality review that may re-run the experience analysis, and reporting.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Configuration file (YAML)")
	cmd.PersistentFlags().StringVarP(&flags.output, "output", "o", config.OutputText, "Output format (text, json, yaml)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "Log format (text, json)")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newRunCmd(flags),
		newValidateCmd(flags),
		newGraphCmd(flags),
		newStagesCmd(flags),
		newVersionCmd(flags),
	)
	return cmd
}

// loadConfig reads the configuration file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	set := cmd.Flags().Changed
	if set("output") {
		cfg.Output = flags.output
	}
	if set("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if set("log-format") {
		cfg.LogFormat = flags.logFormat
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(level, cfg.LogFormat, cmd.ErrOrStderr()), nil
}

// newHeuristics builds the keyword collaborators from the configuration.
func newHeuristics(cfg *config.Config) *screening.Heuristics {
	h := screening.NewHeuristics()
	h.Companies = cfg.KnownCompanies()
	h.MinConfidence = cfg.Heuristics.MinConfidence
	for _, skill := range cfg.Heuristics.ExtraSkills {
		h.Vocabulary = append(h.Vocabulary, strings.ToLower(skill))
	}
	return h
}

// newLoader returns a loader serving the built-in and screening stage types.
func newLoader(cfg *config.Config, mws ...middleware.Middleware) *yaml.Loader {
	loader := yaml.NewLoader()
	builtin.RegisterAll(loader)
	screening.Register(loader, newHeuristics(cfg), batch.WithConcurrency(cfg.Concurrency))
	loader.Use(mws...)
	return loader
}

// loadGraph loads the pipeline at path, or the embedded pipeline when path is empty.
func loadGraph(loader *yaml.Loader, path string) (*screenflow.Graph, error) {
	if path == "" {
		return loader.LoadBytes(screening.Pipeline())
	}
	return loader.LoadFile(path)
}
