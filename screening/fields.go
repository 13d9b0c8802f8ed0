// Package screening is the resume-screening pipeline: fourteen stages over a
// shared state, with one quality check that can send the experience analysis
// back for another pass, at most twice per run.
//
// The stage work is delegated to a Collaborators implementation. The pipeline
// can be built in Go with NewGraph or loaded from the embedded definition
// with Register and a yaml.Loader; both produce the same graph.
package screening

import "github.com/agentstation/screenflow"

// State field names.
const (
	FieldJobDescription      = "job_description"
	FieldResumes             = "resumes"
	FieldResumeFilenames     = "resume_filenames"
	FieldJobRequirements     = "job_requirements"
	FieldCandidates          = "candidates"
	FieldToolPlan            = "tool_plan"
	FieldCompanyVerification = "company_verifications"
	FieldGitHubAnalyses      = "github_analyses"
	FieldSkillTaxonomy       = "skill_taxonomy_data"
	FieldSkillScores         = "skill_scores"
	FieldExperienceScores    = "experience_scores"
	FieldEducationScores     = "education_scores"
	FieldCandidateScores     = "candidate_scores"
	FieldRankedCandidates    = "ranked_candidates"
	FieldQualityCheck        = "quality_check"
	FieldReanalysisCount     = "reanalysis_count"
	FieldBiasAnalysis        = "bias_analysis"
	FieldSalaryEstimates     = "salary_estimates"
	FieldATSScores           = "ats_scores"
	FieldReport              = "report"
	FieldInterviewQuestions  = "interview_questions"
	FieldUserQuestion        = "user_question"
	FieldAgentResponse       = "agent_response"
	FieldConversation        = "conversation_history"
	FieldCurrentStep         = "current_step"
	FieldErrors              = "errors"
)

// MaxReanalysis is the retry ceiling of the quality check.
const MaxReanalysis = 2

// Fields returns the state declaration of the pipeline.
func Fields() []screenflow.Field {
	return []screenflow.Field{
		{Name: FieldJobDescription, Class: screenflow.Overwrite, Required: true, Description: "Raw job description text"},
		{Name: FieldResumes, Class: screenflow.Overwrite, Required: true, Description: "Resume documents as bytes"},
		{Name: FieldResumeFilenames, Class: screenflow.Overwrite, Description: "Original resume file names"},
		{Name: FieldJobRequirements, Class: screenflow.Overwrite, Description: "Parsed job requirements"},
		{Name: FieldCandidates, Class: screenflow.Accumulate, Description: "Parsed candidates"},
		{Name: FieldToolPlan, Class: screenflow.Overwrite, Description: "Enrichment tools selected per candidate"},
		{Name: FieldCompanyVerification, Class: screenflow.Overwrite},
		{Name: FieldGitHubAnalyses, Class: screenflow.Overwrite},
		{Name: FieldSkillTaxonomy, Class: screenflow.Overwrite, Description: "Related skills per candidate skill"},
		{Name: FieldSkillScores, Class: screenflow.Overwrite},
		{Name: FieldExperienceScores, Class: screenflow.Overwrite},
		{Name: FieldEducationScores, Class: screenflow.Overwrite},
		{Name: FieldCandidateScores, Class: screenflow.Overwrite},
		{Name: FieldRankedCandidates, Class: screenflow.Overwrite, Description: "Candidate scores sorted by total"},
		{Name: FieldQualityCheck, Class: screenflow.Overwrite, Description: "Self-assessment of the analysis"},
		{Name: FieldReanalysisCount, Class: screenflow.Overwrite, Description: "Experience re-analysis passes taken"},
		{Name: FieldBiasAnalysis, Class: screenflow.Overwrite},
		{Name: FieldSalaryEstimates, Class: screenflow.Overwrite},
		{Name: FieldATSScores, Class: screenflow.Overwrite},
		{Name: FieldReport, Class: screenflow.Overwrite, Description: "Final markdown report"},
		{Name: FieldInterviewQuestions, Class: screenflow.Overwrite, Description: "Interview questions per candidate"},
		{Name: FieldUserQuestion, Class: screenflow.Overwrite},
		{Name: FieldAgentResponse, Class: screenflow.Overwrite},
		{Name: FieldConversation, Class: screenflow.Accumulate},
		{Name: FieldCurrentStep, Class: screenflow.Overwrite, Description: "Stage being run"},
		{Name: FieldErrors, Class: screenflow.Accumulate, Description: "Tolerated stage faults"},
	}
}

// Schema returns the pipeline's state schema.
func Schema() (*screenflow.Schema, error) {
	return screenflow.NewSchema(Fields(),
		screenflow.WithErrorField(FieldErrors),
		screenflow.WithStepField(FieldCurrentStep),
	)
}

// Input creates the initial state of one screening run.
func Input(schema *screenflow.Schema, jobDescription string, docs []Document) (screenflow.State, error) {
	resumes := make([][]byte, len(docs))
	names := make([]string, len(docs))
	for i, d := range docs {
		resumes[i] = d.Content
		names[i] = d.Name
	}
	return schema.NewState(screenflow.Update{
		FieldJobDescription:  jobDescription,
		FieldResumes:         resumes,
		FieldResumeFilenames: names,
	})
}
