package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/screenflow/checkpoint"
	"github.com/agentstation/screenflow/screening"
)

const testJob = `Senior Backend Engineer
Required: Go, PostgreSQL, Kubernetes
5+ years of experience
Bachelor degree in computer science
Nice to have: Kafka, Terraform`

const testResume = `Name: Ada Lovelace
Skills: Go, PostgreSQL, Kubernetes, Kafka
Experience: 8 years
Companies: Acme
Education: Master of Science
GitHub: ada`

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// fixtures writes a job description and one resume.
func fixtures(t *testing.T) (job, resume string) {
	t.Helper()
	dir := t.TempDir()
	return writeFile(t, dir, "job.txt", testJob), writeFile(t, dir, "ada.txt", testResume)
}

func TestRunPrintsReport(t *testing.T) {
	job, resume := fixtures(t)
	stdout, stderr, err := execute(t, "run", "--job", job, resume)
	require.NoError(t, err)

	assert.Contains(t, stdout, "# Screening report: Senior Backend Engineer")
	assert.Contains(t, stdout, "Ada Lovelace")
	assert.Contains(t, stderr, "screening finished")
}

func TestRunStructuredOutput(t *testing.T) {
	job, resume := fixtures(t)
	stdout, stderr, err := execute(t, "run", "--job", job, resume, "-o", "json", "--checkpoint", "memory", "--log-level", "debug")
	require.NoError(t, err)

	var final map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &final))
	assert.NotContains(t, final, screening.FieldResumes)
	assert.Equal(t, []any{"ada.txt"}, final[screening.FieldResumeFilenames])
	assert.Equal(t, screening.StageQuestionGenerator, final[screening.FieldCurrentStep])
	assert.Len(t, final[screening.FieldRankedCandidates], 1)
	assert.Contains(t, stderr, "checkpoints saved")
}

func TestRunCheckpointsToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	job, resume := fixtures(t)

	_, _, err := execute(t, "run", "--job", job, resume,
		"--checkpoint", "redis", "--redis-addr", mr.Addr(), "--checkpoint-ttl", "1h", "--run-id", "run-1")
	require.NoError(t, err)

	store := checkpoint.NewRedisStore(mr.Addr(), "", 0)
	defer func() { _ = store.Close() }()
	latest, err := checkpoint.Latest(context.Background(), store, "run-1")
	require.NoError(t, err)
	assert.Equal(t, screening.StageQuestionGenerator, latest.Stage)
	assert.Equal(t, "run-1", latest.RunID)
}

func TestRunMetrics(t *testing.T) {
	job, resume := fixtures(t)
	_, stderr, err := execute(t, "run", "--job", job, resume, "--metrics", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, stderr, "screenflow_stage_runs_total")
	assert.Contains(t, stderr, `stage="scorer"`)
}

func TestRunErrors(t *testing.T) {
	job, resume := fixtures(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing job flag", []string{"run", resume}, `required flag(s) "job" not set`},
		{"unreadable job", []string{"run", "--job", filepath.Join(dir, "nope.txt"), resume}, "read job description"},
		{"unreadable resume", []string{"run", "--job", job, filepath.Join(dir, "nope.txt")}, "read resume"},
		{"empty job", []string{"run", "--job", writeFile(t, dir, "empty.txt", " "), resume}, "job description is empty"},
		{"bad backend", []string{"run", "--job", job, resume, "--checkpoint", "s3"}, `unknown checkpoint backend "s3"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRunUsesConfigFile(t *testing.T) {
	job, resume := fixtures(t)
	cfg := writeFile(t, t.TempDir(), "screenflow.yaml", "output: yaml\nlog_level: error\nheuristics:\n  known_companies: [Acme]\n")

	stdout, _, err := execute(t, "--config", cfg, "run", "--job", job, resume)
	require.NoError(t, err)
	assert.Contains(t, stdout, "report:")
	assert.Contains(t, stdout, "verified: true")
}

func TestValidate(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pipeline.yaml", string(screening.Pipeline()))
	stdout, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "is valid: 14 stages, 26 fields, start job_analyzer")
	assert.Contains(t, stdout, "quality_checker retries experience_analyzer_enhanced at most 2 times")

	broken := writeFile(t, t.TempDir(), "broken.yaml", "name: broken\nfields: []\nstages:\n  - name: a\n    type: nope\n")
	_, _, err = execute(t, "validate", broken)
	assert.Error(t, err)
}

func TestGraph(t *testing.T) {
	stdout, _, err := execute(t, "graph")
	require.NoError(t, err)
	assert.Contains(t, stdout, "graph TD")
	assert.Contains(t, stdout, `"retry (max 2)"`)
}

func TestStages(t *testing.T) {
	stdout, _, err := execute(t, "stages")
	require.NoError(t, err)
	for _, typ := range []string{"lua", "jsonpath", "template", "validate", screening.StageType} {
		assert.Contains(t, stdout, typ)
	}
	assert.Contains(t, stdout, "Total: 5 stage types")

	stdout, _, err = execute(t, "stages", "jsonpath")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Stage Type: jsonpath")
	assert.Contains(t, stdout, "Configuration:")

	stdout, _, err = execute(t, "stages", "-o", "json")
	require.NoError(t, err)
	var types []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &types))
	assert.Len(t, types, 5)

	_, _, err = execute(t, "stages", "nope")
	assert.ErrorContains(t, err, "stage type 'nope' not found")
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "screenflow version dev\n", stdout)

	stdout, _, err = execute(t, "version", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"version": "dev"`)
}
