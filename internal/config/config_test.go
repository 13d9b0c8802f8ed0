package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "screenflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
output: json
log_level: debug
checkpoint:
  backend: redis
  address: redis:6379
  ttl: 24h
heuristics:
  known_companies: [Acme, " Initech "]
  min_confidence: 0.7
`))
	require.NoError(t, err)

	assert.Equal(t, OutputJSON, cfg.Output)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat, "unset values keep their default")
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, BackendRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, 1000, cfg.Checkpoint.MaxRuns)

	ttl, err := cfg.CheckpointTTL()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ttl)
	assert.Equal(t, map[string]bool{"acme": true, "initech": true}, cfg.KnownCompanies())
	assert.InDelta(t, 0.7, cfg.Heuristics.MinConfidence, 1e-9)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "unknown key", content: "colour: blue\n", want: "parse config"},
		{name: "bad output", content: "output: xml\n", want: `unknown output format "xml"`},
		{name: "bad level", content: "log_level: loud\n", want: `unknown log level "loud"`},
		{name: "bad backend", content: "checkpoint:\n  backend: s3\n", want: `unknown checkpoint backend "s3"`},
		{name: "bad ttl", content: "checkpoint:\n  ttl: soon\n", want: "invalid checkpoint ttl"},
		{name: "redis without address", content: "checkpoint:\n  backend: redis\n  address: \"\"\n", want: "need an address"},
		{name: "confidence out of range", content: "heuristics:\n  min_confidence: 2\n", want: "min_confidence"},
		{name: "no workers", content: "concurrency: 0\n", want: "concurrency must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
