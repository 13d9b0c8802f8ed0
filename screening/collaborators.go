package screening

import "context"

// Collaborators performs the work behind each stage. Stages own the state
// contract; a Collaborators implementation only sees typed records.
//
// Score records name their candidate by Candidate.Key, which stays unique
// when two resumes carry the same name.
//
// Implementations must be safe for concurrent use: per-candidate calls run
// in parallel and one implementation serves every run of a graph.
type Collaborators interface {
	AnalyzeJob(ctx context.Context, description string) (JobRequirements, error)
	ParseResume(ctx context.Context, doc Document) (Candidate, error)

	// PlanTools selects the enrichment tools worth running for a candidate.
	PlanTools(ctx context.Context, job JobRequirements, c Candidate) ([]string, error)
	VerifyCompany(ctx context.Context, company string) (CompanyVerification, error)
	AnalyzeGitHub(ctx context.Context, handle string) (GitHubAnalysis, error)
	RelatedSkills(ctx context.Context, skill string) ([]string, error)

	MatchSkills(ctx context.Context, job JobRequirements, c Candidate, related map[string][]string) (SkillScore, error)

	// AnalyzeExperience is called again on every re-analysis pass; pass
	// starts at 1 and deeper passes may look harder.
	AnalyzeExperience(ctx context.Context, job JobRequirements, c Candidate, companies map[string]CompanyVerification, pass int) (ExperienceScore, error)
	VerifyEducation(ctx context.Context, job JobRequirements, c Candidate) (EducationScore, error)
	Score(ctx context.Context, card Scorecard) (CandidateScore, error)
	CheckQuality(ctx context.Context, scores []CandidateScore, experience []ExperienceScore) (QualityCheck, error)

	DetectBias(ctx context.Context, jobDescription string, ranked []CandidateScore) (BiasAnalysis, error)
	EstimateSalary(ctx context.Context, job JobRequirements, c Candidate) (SalaryEstimate, error)
	ScoreATS(ctx context.Context, job JobRequirements, c Candidate) (ATSScore, error)
	WriteReport(ctx context.Context, in ReportInput) (string, error)
	InterviewQuestions(ctx context.Context, job JobRequirements, c Candidate, skills SkillScore) ([]string, error)
}
