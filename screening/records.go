package screening

// Document is one candidate resume as submitted.
type Document struct {
	Name    string
	Content []byte
}

// JobRequirements is the structured form of a job description.
type JobRequirements struct {
	Title           string   `mapstructure:"title" json:"title"`
	RequiredSkills  []string `mapstructure:"required_skills" json:"required_skills"`
	PreferredSkills []string `mapstructure:"preferred_skills" json:"preferred_skills"`
	MinYears        int      `mapstructure:"min_years" json:"min_years"`
	Education       string   `mapstructure:"education" json:"education"`
}

// Candidate is a parsed resume.
type Candidate struct {
	// ID is unique within a run; it is the name unless another resume
	// parsed to the same name.
	ID        string   `mapstructure:"id" json:"id"`
	Name      string   `mapstructure:"name" json:"name"`
	File      string   `mapstructure:"file" json:"file"`
	Skills    []string `mapstructure:"skills" json:"skills"`
	Years     int      `mapstructure:"years" json:"years"`
	Companies []string `mapstructure:"companies" json:"companies"`
	Education string   `mapstructure:"education" json:"education"`
	GitHub    string   `mapstructure:"github" json:"github"`
	Text      string   `mapstructure:"text" json:"text"`
}

// Key identifies the candidate in per-candidate records.
func (c Candidate) Key() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}

// Enrichment tools a tool plan may select.
const (
	ToolWebSearch = "web_search"
	ToolGitHub    = "github"
	ToolTaxonomy  = "skill_taxonomy"
)

// CompanyVerification is the web search result for one employer.
type CompanyVerification struct {
	Company  string `mapstructure:"company" json:"company"`
	Verified bool   `mapstructure:"verified" json:"verified"`
	Source   string `mapstructure:"source" json:"source"`
}

// GitHubAnalysis summarises a candidate's public repositories.
type GitHubAnalysis struct {
	Handle       string   `mapstructure:"handle" json:"handle"`
	Languages    []string `mapstructure:"languages" json:"languages"`
	Repositories int      `mapstructure:"repositories" json:"repositories"`
	Active       bool     `mapstructure:"active" json:"active"`
}

// SkillScore is the skill match of one candidate.
type SkillScore struct {
	Candidate string   `mapstructure:"candidate" json:"candidate"`
	Matched   []string `mapstructure:"matched" json:"matched"`
	Missing   []string `mapstructure:"missing" json:"missing"`
	Score     float64  `mapstructure:"score" json:"score"`
}

// ExperienceScore is the experience assessment of one candidate.
// Pass counts analysis passes, starting at 1.
type ExperienceScore struct {
	Candidate         string  `mapstructure:"candidate" json:"candidate"`
	Years             int     `mapstructure:"years" json:"years"`
	VerifiedCompanies int     `mapstructure:"verified_companies" json:"verified_companies"`
	Score             float64 `mapstructure:"score" json:"score"`
	Confidence        float64 `mapstructure:"confidence" json:"confidence"`
	Pass              int     `mapstructure:"pass" json:"pass"`
}

// EducationScore is the education check of one candidate.
type EducationScore struct {
	Candidate string  `mapstructure:"candidate" json:"candidate"`
	Degree    string  `mapstructure:"degree" json:"degree"`
	Meets     bool    `mapstructure:"meets" json:"meets"`
	Score     float64 `mapstructure:"score" json:"score"`
}

// Scorecard gathers the partial scores the scorer combines.
type Scorecard struct {
	Candidate  string
	Skills     SkillScore
	Experience ExperienceScore
	Education  EducationScore
}

// CandidateScore is the combined score of one candidate. Rank starts at 1
// once the candidates are ranked.
type CandidateScore struct {
	Candidate  string  `mapstructure:"candidate" json:"candidate"`
	Skills     float64 `mapstructure:"skills" json:"skills"`
	Experience float64 `mapstructure:"experience" json:"experience"`
	Education  float64 `mapstructure:"education" json:"education"`
	Total      float64 `mapstructure:"total" json:"total"`
	Rank       int     `mapstructure:"rank" json:"rank"`
}

// QualityCheck is the self-assessment of the analysis. NeedsReanalysis asks
// for another experience pass.
type QualityCheck struct {
	Confidence      float64  `mapstructure:"confidence" json:"confidence"`
	NeedsReanalysis bool     `mapstructure:"needs_reanalysis" json:"needs_reanalysis"`
	Issues          []string `mapstructure:"issues" json:"issues"`
}

// Record returns the check in the map form stored in the state, where the
// decision reads needs_reanalysis by path.
func (q QualityCheck) Record() map[string]any {
	issues := make([]any, len(q.Issues))
	for i, s := range q.Issues {
		issues[i] = s
	}
	return map[string]any{
		"confidence":       q.Confidence,
		"needs_reanalysis": q.NeedsReanalysis,
		"issues":           issues,
	}
}

// BiasAnalysis lists wording or ranking patterns that may bias the decision.
type BiasAnalysis struct {
	Flags []string `mapstructure:"flags" json:"flags"`
	Risk  string   `mapstructure:"risk" json:"risk"`
}

// SalaryEstimate is a compensation range in yearly currency units.
type SalaryEstimate struct {
	Low  int `mapstructure:"low" json:"low"`
	High int `mapstructure:"high" json:"high"`
}

// ATSScore is the applicant tracking system readability of a resume.
type ATSScore struct {
	Score           float64  `mapstructure:"score" json:"score"`
	MissingKeywords []string `mapstructure:"missing_keywords" json:"missing_keywords"`
}

// ReportInput is everything the report writer sees.
type ReportInput struct {
	Job        JobRequirements
	Ranked     []CandidateScore
	Quality    QualityCheck
	Bias       BiasAnalysis
	Salaries   map[string]SalaryEstimate
	ATS        map[string]ATSScore
	Reanalyzed int
	Errors     []string
}
