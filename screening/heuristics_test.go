package screening_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/screenflow/screening"
)

func TestHeuristicsAnalyzeJob(t *testing.T) {
	h := screening.NewHeuristics()
	job, err := h.AnalyzeJob(context.Background(), jobDescription)
	require.NoError(t, err)
	assert.Equal(t, screening.JobRequirements{
		Title:           "Senior Backend Engineer",
		RequiredSkills:  []string{"go", "postgresql", "kubernetes"},
		PreferredSkills: []string{"kafka", "terraform"},
		MinYears:        5,
		Education:       "bachelor",
	}, job)

	_, err = h.AnalyzeJob(context.Background(), "\n \n")
	assert.Error(t, err)
}

func TestHeuristicsParseResume(t *testing.T) {
	h := screening.NewHeuristics()

	tests := []struct {
		name string
		doc  screening.Document
		want screening.Candidate
	}{
		{
			name: "labelled lines",
			doc:  bob,
			want: screening.Candidate{
				Name:      "Bob Stone",
				File:      "bob.txt",
				Skills:    []string{"golang", "postgres", "docker"},
				Years:     3,
				Companies: []string{"Nowhere Ltd"},
				Education: "bachelor",
				Text:      string(bob.Content),
			},
		},
		{
			name: "free text",
			doc: screening.Document{Name: "dan.txt", Content: []byte(
				"Dan Brown\nBuilt Kafka pipelines in Go and Rust for 4 years.\nPhD in physics")},
			want: screening.Candidate{
				Name:   "Dan Brown",
				File:   "dan.txt",
				Skills: []string{"kafka", "go", "rust"},
				Years:  4,
				Text:   "Dan Brown\nBuilt Kafka pipelines in Go and Rust for 4 years.\nPhD in physics",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.ParseResume(context.Background(), tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeuristicsExperienceConfidence(t *testing.T) {
	h := screening.NewHeuristics()
	job := screening.JobRequirements{MinYears: 5}
	c := screening.Candidate{Name: "x", Years: 10, Companies: []string{"Acme", "Initech"}}
	verified := map[string]screening.CompanyVerification{"Acme": {Company: "Acme", Verified: true}}

	var confidences []float64
	for pass := 1; pass <= 3; pass++ {
		e, err := h.AnalyzeExperience(context.Background(), job, c, verified, pass)
		require.NoError(t, err)
		assert.Equal(t, 1, e.VerifiedCompanies)
		assert.InDelta(t, 100, e.Score, 1e-9)
		confidences = append(confidences, e.Confidence)
	}
	assert.InDeltaSlice(t, []float64{0.6, 0.75, 0.9}, confidences, 1e-9)
}

func TestHeuristicsCheckQuality(t *testing.T) {
	h := screening.NewHeuristics()
	scores := []screening.CandidateScore{{Candidate: "a"}, {Candidate: "b"}}

	q, err := h.CheckQuality(context.Background(), scores, []screening.ExperienceScore{
		{Candidate: "a", Confidence: 0.9},
		{Candidate: "b", Confidence: 0.4},
	})
	require.NoError(t, err)
	assert.True(t, q.NeedsReanalysis)
	assert.InDelta(t, 0.4, q.Confidence, 1e-9)
	assert.Equal(t, []string{"b: experience confidence 0.40"}, q.Issues)

	q, err = h.CheckQuality(context.Background(), scores, []screening.ExperienceScore{{Candidate: "a", Confidence: 0.9}})
	require.NoError(t, err)
	assert.True(t, q.NeedsReanalysis)
	assert.Equal(t, []string{"2 candidates scored, 1 experience analyses"}, q.Issues)

	q, err = h.CheckQuality(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, q.NeedsReanalysis)

	assert.Equal(t, map[string]any{
		"confidence":       0.5,
		"needs_reanalysis": true,
		"issues":           []any{"low"},
	}, screening.QualityCheck{Confidence: 0.5, NeedsReanalysis: true, Issues: []string{"low"}}.Record())
}

func TestHeuristicsEducationAndBias(t *testing.T) {
	h := screening.NewHeuristics()
	ctx := context.Background()

	tests := []struct {
		required, has string
		meets         bool
		score         float64
	}{
		{"", "", true, 100},
		{"bachelor", "master", true, 100},
		{"master", "bachelor", false, 60},
		{"bachelor", "", false, 30},
	}
	for _, tt := range tests {
		e, err := h.VerifyEducation(ctx, screening.JobRequirements{Education: tt.required}, screening.Candidate{Education: tt.has})
		require.NoError(t, err)
		assert.Equal(t, tt.meets, e.Meets, "%s/%s", tt.required, tt.has)
		assert.InDelta(t, tt.score, e.Score, 1e-9)
	}

	b, err := h.DetectBias(ctx, "We want a young, energetic team", []screening.CandidateScore{
		{Candidate: "a", Total: 80}, {Candidate: "b", Total: 80},
	})
	require.NoError(t, err)
	assert.Equal(t, "high", b.Risk)
	assert.Equal(t, []string{
		`job description uses "young"`,
		`job description uses "energetic"`,
		"a and b tie for first place",
	}, b.Flags)
}

func TestHeuristicsReport(t *testing.T) {
	h := screening.NewHeuristics()
	report, err := h.WriteReport(context.Background(), screening.ReportInput{
		Job:        screening.JobRequirements{Title: "SRE"},
		Ranked:     []screening.CandidateScore{{Candidate: "a", Rank: 1, Skills: 50, Experience: 60, Education: 100, Total: 63}},
		Quality:    screening.QualityCheck{Confidence: 0.7},
		Bias:       screening.BiasAnalysis{Risk: "low"},
		Salaries:   map[string]screening.SalaryEstimate{"a": {Low: 90000, High: 110000}},
		ATS:        map[string]screening.ATSScore{"a": {Score: 80}},
		Reanalyzed: 1,
		Errors:     []string{"ats_scorer: boom"},
	})
	require.NoError(t, err)
	assert.Contains(t, report, "# Screening report: SRE")
	assert.Contains(t, report, "| 1 | a | 50 | 60 | 100 | 63.0 | 80 | 90000-110000 |")
	assert.Contains(t, report, "Analysis confidence 0.70 after 1 re-analysis passes.")
	assert.Contains(t, report, "## Problems\n- ats_scorer: boom")
}
