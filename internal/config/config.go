// Package config loads the screenflow CLI run configuration.
//
// A configuration file is optional; values it leaves out keep their
// defaults and command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goyaml "github.com/goccy/go-yaml"

	"github.com/agentstation/screenflow/internal/logging"
)

// Output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Checkpoint backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the run configuration of the CLI.
type Config struct {
	// Pipeline is a graph definition file; empty selects the embedded pipeline.
	Pipeline    string           `yaml:"pipeline"`
	Output      string           `yaml:"output"`
	LogLevel    string           `yaml:"log_level"`
	LogFormat   string           `yaml:"log_format"`
	Concurrency int              `yaml:"concurrency"`
	Metrics     bool             `yaml:"metrics"`
	Checkpoint  CheckpointConfig `yaml:"checkpoint"`
	Heuristics  HeuristicsConfig `yaml:"heuristics"`
}

// CheckpointConfig selects where per-step checkpoints are written.
type CheckpointConfig struct {
	Backend  string `yaml:"backend"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	TTL      string `yaml:"ttl"`
	MaxRuns  int    `yaml:"max_runs"`
}

// HeuristicsConfig tunes the built-in keyword collaborators.
type HeuristicsConfig struct {
	KnownCompanies []string `yaml:"known_companies"`
	MinConfidence  float64  `yaml:"min_confidence"`
	ExtraSkills    []string `yaml:"extra_skills"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Output:      OutputText,
		LogLevel:    "info",
		LogFormat:   "text",
		Concurrency: 4,
		Checkpoint: CheckpointConfig{
			Backend: BackendNone,
			Address: "localhost:6379",
			MaxRuns: 1000,
		},
		Heuristics: HeuristicsConfig{
			MinConfidence: 0.6,
		},
	}
}

// Load reads a configuration file over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - config path is user-provided
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := goyaml.UnmarshalWithOptions(data, cfg, goyaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		errs = append(errs, fmt.Errorf("unknown output format %q", c.Output))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}

	cp := c.Checkpoint
	switch cp.Backend {
	case "", BackendNone, BackendMemory:
	case BackendRedis:
		if cp.Address == "" {
			errs = append(errs, errors.New("redis checkpoints need an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", cp.Backend))
	}
	if _, err := c.CheckpointTTL(); err != nil {
		errs = append(errs, err)
	}

	if h := c.Heuristics.MinConfidence; h < 0 || h > 1 {
		errs = append(errs, fmt.Errorf("min_confidence must be within [0, 1], got %v", h))
	}
	return errors.Join(errs...)
}

// CheckpointTTL parses the checkpoint expiry; zero means no expiry.
func (c *Config) CheckpointTTL() (time.Duration, error) {
	if c.Checkpoint.TTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.Checkpoint.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint ttl: %w", err)
	}
	if ttl < 0 {
		return 0, fmt.Errorf("checkpoint ttl %s is negative", ttl)
	}
	return ttl, nil
}

// KnownCompanies returns the configured employers, lower-cased.
func (c *Config) KnownCompanies() map[string]bool {
	out := make(map[string]bool, len(c.Heuristics.KnownCompanies))
	for _, name := range c.Heuristics.KnownCompanies {
		out[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return out
}
