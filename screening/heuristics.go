package screening

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"text/template"
)

// Heuristics is a keyword-based Collaborators implementation. It needs no
// external service and gives the pipeline deterministic output.
//
// Resumes are read as "Key: value" lines (name, skills, experience,
// companies, education, github); anything else is searched for known skills.
type Heuristics struct {
	// Vocabulary lists the skills recognised in free text.
	Vocabulary []string
	// Taxonomy maps a skill to the skills that count as a match for it.
	Taxonomy map[string][]string
	// Companies lists the employers a web search would confirm.
	Companies map[string]bool
	// Profiles holds the known GitHub profiles by handle.
	Profiles map[string]GitHubAnalysis
	// MinConfidence is the analysis confidence below which the quality
	// check asks for another pass.
	MinConfidence float64
}

// NewHeuristics returns heuristics with a small software-engineering vocabulary.
func NewHeuristics() *Heuristics {
	return &Heuristics{
		Vocabulary: []string{
			"go", "python", "java", "rust", "typescript", "sql", "postgresql",
			"redis", "kafka", "kubernetes", "docker", "terraform", "aws", "gcp",
			"grpc", "graphql", "react", "linux",
		},
		Taxonomy: map[string][]string{
			"go":         {"golang"},
			"postgresql": {"postgres", "sql"},
			"kubernetes": {"k8s", "openshift"},
			"aws":        {"gcp", "azure"},
			"docker":     {"podman", "containers"},
			"kafka":      {"nats", "rabbitmq"},
		},
		Companies:     map[string]bool{},
		Profiles:      map[string]GitHubAnalysis{},
		MinConfidence: 0.6,
	}
}

var (
	yearsPattern = regexp.MustCompile(`(\d+)\+?\s*(?:years|yrs)`)
	wordPattern  = regexp.MustCompile(`[a-z0-9+#]+`)

	biasedTerms = []string{"young", "digital native", "culture fit", "recent graduate", "native english", "energetic"}

	degrees = []string{"bachelor", "master", "phd"}
)

// AnalyzeJob implements Collaborators.
func (h *Heuristics) AnalyzeJob(_ context.Context, description string) (JobRequirements, error) {
	lines := nonEmptyLines(description)
	if len(lines) == 0 {
		return JobRequirements{}, errors.New("empty job description")
	}

	job := JobRequirements{
		Title:     strings.TrimSpace(strings.TrimPrefix(lines[0], "Title:")),
		MinYears:  maxYears(description),
		Education: degreeIn(description),
	}
	preferred := false
	for _, line := range lines[1:] {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "preferred") || strings.Contains(lower, "nice to have") || strings.Contains(lower, "bonus") {
			preferred = true
		} else if strings.Contains(lower, "required") || strings.Contains(lower, "must") {
			preferred = false
		}
		for _, skill := range h.skillsIn(line) {
			if preferred {
				job.PreferredSkills = appendUnique(job.PreferredSkills, skill)
			} else {
				job.RequiredSkills = appendUnique(job.RequiredSkills, skill)
			}
		}
	}
	return job, nil
}

// ParseResume implements Collaborators.
func (h *Heuristics) ParseResume(_ context.Context, doc Document) (Candidate, error) {
	text := strings.TrimSpace(string(doc.Content))
	if text == "" {
		return Candidate{}, fmt.Errorf("%s: empty document", doc.Name)
	}

	c := Candidate{File: doc.Name, Text: text}
	for _, line := range nonEmptyLines(text) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			c.Name = value
		case "skills":
			for _, s := range splitList(value) {
				c.Skills = appendUnique(c.Skills, strings.ToLower(s))
			}
		case "experience":
			c.Years = maxYears(value)
		case "companies":
			c.Companies = splitList(value)
		case "education":
			c.Education = degreeIn(value)
		case "github":
			c.GitHub = value
		}
	}
	if c.Name == "" {
		c.Name = nonEmptyLines(text)[0]
	}
	if len(c.Skills) == 0 {
		c.Skills = h.skillsIn(text)
	}
	if c.Years == 0 {
		c.Years = maxYears(text)
	}
	return c, nil
}

// PlanTools implements Collaborators.
func (h *Heuristics) PlanTools(_ context.Context, job JobRequirements, c Candidate) ([]string, error) {
	var tools []string
	if len(c.Companies) > 0 {
		tools = append(tools, ToolWebSearch)
	}
	if c.GitHub != "" {
		tools = append(tools, ToolGitHub)
	}
	for _, skill := range job.RequiredSkills {
		if !slices.Contains(c.Skills, skill) {
			tools = append(tools, ToolTaxonomy)
			break
		}
	}
	return tools, nil
}

// VerifyCompany implements Collaborators.
func (h *Heuristics) VerifyCompany(_ context.Context, company string) (CompanyVerification, error) {
	if h.Companies[strings.ToLower(company)] {
		return CompanyVerification{Company: company, Verified: true, Source: "directory"}, nil
	}
	return CompanyVerification{Company: company, Source: "not found"}, nil
}

// AnalyzeGitHub implements Collaborators.
func (h *Heuristics) AnalyzeGitHub(_ context.Context, handle string) (GitHubAnalysis, error) {
	if p, ok := h.Profiles[handle]; ok {
		p.Handle = handle
		return p, nil
	}
	return GitHubAnalysis{Handle: handle}, nil
}

// RelatedSkills implements Collaborators.
func (h *Heuristics) RelatedSkills(_ context.Context, skill string) ([]string, error) {
	return slices.Clone(h.Taxonomy[strings.ToLower(skill)]), nil
}

// MatchSkills implements Collaborators. A required skill matches when the
// candidate lists it or one of its related skills.
func (h *Heuristics) MatchSkills(_ context.Context, job JobRequirements, c Candidate, related map[string][]string) (SkillScore, error) {
	score := SkillScore{Candidate: c.Key()}
	for _, want := range job.RequiredSkills {
		if hasSkill(c.Skills, want, related) || hasSkill(c.Skills, want, h.Taxonomy) {
			score.Matched = append(score.Matched, want)
		} else {
			score.Missing = append(score.Missing, want)
		}
	}
	if len(job.RequiredSkills) == 0 {
		score.Score = 100
	} else {
		score.Score = round(100 * float64(len(score.Matched)) / float64(len(job.RequiredSkills)))
	}
	return score, nil
}

// AnalyzeExperience implements Collaborators. Confidence grows with the
// share of verified employers and with every further pass.
func (h *Heuristics) AnalyzeExperience(_ context.Context, job JobRequirements, c Candidate, companies map[string]CompanyVerification, pass int) (ExperienceScore, error) {
	verified := 0
	for _, name := range c.Companies {
		if companies[name].Verified {
			verified++
		}
	}

	want := max(job.MinYears, 1)
	score := math.Min(float64(c.Years)/float64(want), 1) * 90
	score = math.Min(score+10*float64(verified), 100)

	confidence := 0.4 + 0.15*float64(max(pass, 1)-1)
	if len(c.Companies) > 0 {
		confidence += 0.4 * float64(verified) / float64(len(c.Companies))
	}
	return ExperienceScore{
		Candidate:         c.Key(),
		Years:             c.Years,
		VerifiedCompanies: verified,
		Score:             round(score),
		Confidence:        round(math.Min(confidence, 1)),
		Pass:              pass,
	}, nil
}

// VerifyEducation implements Collaborators.
func (h *Heuristics) VerifyEducation(_ context.Context, job JobRequirements, c Candidate) (EducationScore, error) {
	s := EducationScore{Candidate: c.Key(), Degree: c.Education}
	s.Meets = slices.Index(degrees, c.Education) >= slices.Index(degrees, job.Education)
	switch {
	case s.Meets:
		s.Score = 100
	case c.Education != "":
		s.Score = 60
	default:
		s.Score = 30
	}
	return s, nil
}

// Score implements Collaborators.
func (h *Heuristics) Score(_ context.Context, card Scorecard) (CandidateScore, error) {
	s := CandidateScore{
		Candidate:  card.Candidate,
		Skills:     card.Skills.Score,
		Experience: card.Experience.Score,
		Education:  card.Education.Score,
	}
	s.Total = round(0.5*s.Skills + 0.3*s.Experience + 0.2*s.Education)
	return s, nil
}

// CheckQuality implements Collaborators. The weakest experience confidence
// is the confidence of the whole analysis.
func (h *Heuristics) CheckQuality(_ context.Context, scores []CandidateScore, experience []ExperienceScore) (QualityCheck, error) {
	if len(scores) == 0 {
		return QualityCheck{Issues: []string{"no candidates scored"}}, nil
	}
	q := QualityCheck{Confidence: 1}
	for _, e := range experience {
		q.Confidence = math.Min(q.Confidence, e.Confidence)
		if e.Confidence < h.MinConfidence {
			q.Issues = append(q.Issues, fmt.Sprintf("%s: experience confidence %.2f", e.Candidate, e.Confidence))
		}
	}
	if len(experience) != len(scores) {
		q.Issues = append(q.Issues, fmt.Sprintf("%d candidates scored, %d experience analyses", len(scores), len(experience)))
	}
	q.NeedsReanalysis = len(q.Issues) > 0
	return q, nil
}

// DetectBias implements Collaborators.
func (h *Heuristics) DetectBias(_ context.Context, jobDescription string, ranked []CandidateScore) (BiasAnalysis, error) {
	var b BiasAnalysis
	lower := strings.ToLower(jobDescription)
	for _, term := range biasedTerms {
		if strings.Contains(lower, term) {
			b.Flags = append(b.Flags, fmt.Sprintf("job description uses %q", term))
		}
	}
	if len(ranked) > 1 && ranked[0].Total == ranked[1].Total {
		b.Flags = append(b.Flags, fmt.Sprintf("%s and %s tie for first place", ranked[0].Candidate, ranked[1].Candidate))
	}
	switch len(b.Flags) {
	case 0:
		b.Risk = "low"
	case 1:
		b.Risk = "medium"
	default:
		b.Risk = "high"
	}
	return b, nil
}

// EstimateSalary implements Collaborators.
func (h *Heuristics) EstimateSalary(_ context.Context, job JobRequirements, c Candidate) (SalaryEstimate, error) {
	mid := 70000 + 5000*min(c.Years, 15)
	for _, skill := range job.PreferredSkills {
		if slices.Contains(c.Skills, skill) {
			mid += 5000
		}
	}
	return SalaryEstimate{
		Low:  roundThousand(float64(mid) * 0.9),
		High: roundThousand(float64(mid) * 1.1),
	}, nil
}

// ScoreATS implements Collaborators.
func (h *Heuristics) ScoreATS(_ context.Context, job JobRequirements, c Candidate) (ATSScore, error) {
	words := wordPattern.FindAllString(strings.ToLower(c.Text), -1)
	keywords := append(slices.Clone(job.RequiredSkills), job.PreferredSkills...)

	var s ATSScore
	covered := 0
	for _, k := range keywords {
		if slices.Contains(words, k) {
			covered++
		} else {
			s.MissingKeywords = append(s.MissingKeywords, k)
		}
	}
	s.Score = 70
	if len(keywords) > 0 {
		s.Score = 70 * float64(covered) / float64(len(keywords))
	}
	lower := strings.ToLower(c.Text)
	for _, section := range []string{"skills:", "experience:", "education:"} {
		if strings.Contains(lower, section) {
			s.Score += 10
		}
	}
	s.Score = round(s.Score)
	return s, nil
}

var reportTemplate = template.Must(template.New("report").Parse(`# Screening report: {{.Job.Title}}

| Rank | Candidate | Skills | Experience | Education | Total | ATS | Salary |
|---|---|---|---|---|---|---|---|
{{- range .Ranked}}
{{- $salary := index $.Salaries .Candidate}}
| {{.Rank}} | {{.Candidate}} | {{printf "%.0f" .Skills}} | {{printf "%.0f" .Experience}} | {{printf "%.0f" .Education}} | {{printf "%.1f" .Total}} | {{printf "%.0f" (index $.ATS .Candidate).Score}} | {{$salary.Low}}-{{$salary.High}} |
{{- end}}

Analysis confidence {{printf "%.2f" .Quality.Confidence}} after {{.Reanalyzed}} re-analysis passes.
{{- range .Quality.Issues}}
- {{.}}
{{- end}}

Bias risk: {{or .Bias.Risk "unknown"}}
{{- range .Bias.Flags}}
- {{.}}
{{- end}}
{{- if .Errors}}

## Problems
{{- range .Errors}}
- {{.}}
{{- end}}
{{- end}}
`))

// WriteReport implements Collaborators.
func (h *Heuristics) WriteReport(_ context.Context, in ReportInput) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// InterviewQuestions implements Collaborators.
func (h *Heuristics) InterviewQuestions(_ context.Context, job JobRequirements, c Candidate, skills SkillScore) ([]string, error) {
	questions := []string{fmt.Sprintf("What drew you to the %s role?", job.Title)}
	for _, s := range firstN(skills.Matched, 2) {
		questions = append(questions, fmt.Sprintf("Describe a production system you built with %s.", s))
	}
	for _, s := range firstN(skills.Missing, 2) {
		questions = append(questions, fmt.Sprintf("How would you get productive with %s in your first month?", s))
	}
	if c.Years < job.MinYears {
		questions = append(questions, fmt.Sprintf("The role asks for %d years of experience; which of your %d years best prepares you for it?", job.MinYears, c.Years))
	}
	return questions, nil
}

func (h *Heuristics) skillsIn(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	var found []string
	for _, w := range words {
		if slices.Contains(h.Vocabulary, w) {
			found = appendUnique(found, w)
		}
	}
	return found
}

func hasSkill(have []string, want string, related map[string][]string) bool {
	if slices.Contains(have, want) {
		return true
	}
	for _, alt := range related[want] {
		if slices.Contains(have, alt) {
			return true
		}
	}
	return false
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maxYears(text string) int {
	best := 0
	for _, m := range yearsPattern.FindAllStringSubmatch(strings.ToLower(text), -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > best {
			best = n
		}
	}
	return best
}

// degreeIn returns the highest degree mentioned, or "".
func degreeIn(text string) string {
	lower := strings.ToLower(text)
	for i := len(degrees) - 1; i >= 0; i-- {
		if strings.Contains(lower, degrees[i]) {
			return degrees[i]
		}
	}
	return ""
}

func appendUnique(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}

func firstN(list []string, n int) []string {
	return list[:min(n, len(list))]
}

func round(f float64) float64 {
	return math.Round(f*100) / 100
}

func roundThousand(f float64) int {
	return int(math.Round(f/1000)) * 1000
}
