package screening

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/batch"
)

// Stage names in pipeline order.
const (
	StageJobAnalyzer        = "job_analyzer"
	StageResumeParser       = "resume_parser"
	StageToolCoordinator    = "tool_coordinator"
	StageCandidateEnricher  = "candidate_enricher"
	StageSkillMatcher       = "skill_matcher_enhanced"
	StageExperienceAnalyzer = "experience_analyzer_enhanced"
	StageEducationVerifier  = "education_verifier"
	StageScorer             = "scorer"
	StageQualityChecker     = "quality_checker"
	StageBiasDetector       = "bias_detector"
	StageSalaryEstimator    = "salary_estimator"
	StageATSScorer          = "ats_scorer"
	StageReportGenerator    = "report_generator"
	StageQuestionGenerator  = "question_generator"
)

// Stages returns the pipeline stages backed by c, in pipeline order.
// Per-candidate work fans out with the given batch options.
func Stages(c Collaborators, opts ...batch.Option) []screenflow.Stage {
	return []screenflow.Stage{
		jobAnalyzer(c),
		resumeParser(c, opts),
		toolCoordinator(c, opts),
		candidateEnricher(c, opts),
		skillMatcher(c, opts),
		experienceAnalyzer(c, opts),
		educationVerifier(c, opts),
		scorer(c),
		qualityChecker(c),
		biasDetector(c),
		salaryEstimator(c, opts),
		atsScorer(c, opts),
		reportGenerator(c),
		questionGenerator(c, opts),
	}
}

func jobAnalyzer(c Collaborators) screenflow.Stage {
	return screenflow.NewStage(StageJobAnalyzer, screenflow.Steps{},
		screenflow.WithPrep(func(_ context.Context, s screenflow.StateReader) (string, error) {
			desc, _, err := screenflow.Lookup[string](s, FieldJobDescription)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(desc) == "" {
				return "", errors.New("job description is empty")
			}
			return desc, nil
		}),
		screenflow.WithExec(c.AnalyzeJob),
		screenflow.WithPost(func(_ context.Context, _ screenflow.StateReader, _ string, job JobRequirements) (screenflow.Update, error) {
			return screenflow.Update{FieldJobRequirements: job}, nil
		}),
		screenflow.WithReads(FieldJobDescription),
		screenflow.WithWrites(FieldJobRequirements),
	)
}

func resumeParser(c Collaborators, opts []batch.Option) screenflow.Stage {
	return screenflow.NewStage(StageResumeParser, screenflow.Steps{},
		screenflow.WithPrep(func(_ context.Context, s screenflow.StateReader) ([]Document, error) {
			resumes, _, err := screenflow.Lookup[[][]byte](s, FieldResumes)
			if err != nil {
				return nil, err
			}
			if len(resumes) == 0 {
				return nil, errors.New("no resumes submitted")
			}
			names, _, err := screenflow.Lookup[[]string](s, FieldResumeFilenames)
			if err != nil {
				return nil, err
			}
			docs := make([]Document, len(resumes))
			for i, content := range resumes {
				docs[i] = Document{Name: fmt.Sprintf("resume-%d", i+1), Content: content}
				if i < len(names) && names[i] != "" {
					docs[i].Name = names[i]
				}
			}
			return docs, nil
		}),
		screenflow.WithExec(func(ctx context.Context, docs []Document) ([]batch.Outcome[Candidate], error) {
			return batch.Collect(ctx, docs, c.ParseResume, opts...), nil
		}),
		screenflow.WithPost(func(_ context.Context, _ screenflow.StateReader, docs []Document, parsed []batch.Outcome[Candidate]) (screenflow.Update, error) {
			var (
				candidates []Candidate
				problems   []string
			)
			for _, o := range parsed {
				if o.Err != nil {
					problems = append(problems, fmt.Sprintf("%s: %v", StageResumeParser, o.Err))
					continue
				}
				candidates = append(candidates, o.Value)
			}
			if len(candidates) == 0 {
				return nil, fmt.Errorf("none of %d resumes could be parsed: %w", len(docs), batch.Errors(parsed))
			}
			assignIDs(candidates)
			update := screenflow.Update{FieldCandidates: candidates}
			if len(problems) > 0 {
				update[FieldErrors] = problems
			}
			return update, nil
		}),
		screenflow.WithReads(FieldResumes, FieldResumeFilenames),
		screenflow.WithWrites(FieldCandidates, FieldErrors),
		screenflow.WithPolicy(screenflow.CollectAndContinue),
	)
}

func toolCoordinator(c Collaborators, opts []batch.Option) screenflow.Stage {
	return screenflow.StageFunc(StageToolCoordinator, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		job, candidates, err := jobAndCandidates(s)
		if err != nil {
			return nil, err
		}
		plans, err := batch.Map(ctx, candidates, func(ctx context.Context, cand Candidate) ([]string, error) {
			return c.PlanTools(ctx, job, cand)
		}, opts...)
		if err != nil {
			return nil, err
		}
		plan := make(map[string][]string, len(candidates))
		for i, cand := range candidates {
			plan[cand.Key()] = plans[i]
		}
		return screenflow.Update{FieldToolPlan: plan}, nil
	},
		screenflow.WithReads(FieldJobRequirements, FieldCandidates),
		screenflow.WithWrites(FieldToolPlan),
		screenflow.WithPolicy(screenflow.CollectAndContinue),
	)
}

// enrichInput is what the enricher prepares from the state.
type enrichInput struct {
	job        JobRequirements
	candidates []Candidate
	plan       map[string][]string
}

// enrichOutput pairs the candidates that had tools planned with their results.
type enrichOutput struct {
	candidates []Candidate
	results    []batch.Outcome[enrichment]
}

// enrichment is the tool output for one candidate.
type enrichment struct {
	companies []CompanyVerification
	github    *GitHubAnalysis
	related   map[string][]string
}

func candidateEnricher(c Collaborators, opts []batch.Option) screenflow.Stage {
	enrich := func(ctx context.Context, job JobRequirements, cand Candidate, tools []string) (enrichment, error) {
		var out enrichment
		if slices.Contains(tools, ToolWebSearch) {
			for _, company := range cand.Companies {
				v, err := c.VerifyCompany(ctx, company)
				if err != nil {
					return out, fmt.Errorf("verify %s: %w", company, err)
				}
				out.companies = append(out.companies, v)
			}
		}
		if slices.Contains(tools, ToolGitHub) && cand.GitHub != "" {
			gh, err := c.AnalyzeGitHub(ctx, cand.GitHub)
			if err != nil {
				return out, fmt.Errorf("github %s: %w", cand.GitHub, err)
			}
			out.github = &gh
		}
		if slices.Contains(tools, ToolTaxonomy) {
			out.related = make(map[string][]string)
			for _, skill := range job.RequiredSkills {
				related, err := c.RelatedSkills(ctx, skill)
				if err != nil {
					return out, fmt.Errorf("taxonomy %s: %w", skill, err)
				}
				out.related[skill] = related
			}
		}
		return out, nil
	}

	return screenflow.NewStage(StageCandidateEnricher, screenflow.Steps{},
		screenflow.WithPrep(func(_ context.Context, s screenflow.StateReader) (enrichInput, error) {
			job, candidates, err := jobAndCandidates(s)
			if err != nil {
				return enrichInput{}, err
			}
			plan, err := field[map[string][]string](s, FieldToolPlan)
			return enrichInput{job: job, candidates: candidates, plan: plan}, err
		}),
		screenflow.WithExec(func(ctx context.Context, in enrichInput) (enrichOutput, error) {
			planned, err := batch.Filter(ctx, in.candidates, func(_ context.Context, cand Candidate) (bool, error) {
				return len(in.plan[cand.Key()]) > 0, nil
			}, opts...)
			if err != nil {
				return enrichOutput{}, err
			}
			return enrichOutput{
				candidates: planned,
				results: batch.Collect(ctx, planned, func(ctx context.Context, cand Candidate) (enrichment, error) {
					return enrich(ctx, in.job, cand, in.plan[cand.Key()])
				}, opts...),
			}, nil
		}),
		screenflow.WithPost(func(_ context.Context, _ screenflow.StateReader, _ enrichInput, out enrichOutput) (screenflow.Update, error) {
			companies := map[string]CompanyVerification{}
			github := map[string]GitHubAnalysis{}
			taxonomy := map[string][]string{}
			var problems []string
			for i, r := range out.results {
				cand := out.candidates[i]
				if r.Err != nil {
					problems = append(problems, fmt.Sprintf("%s: %s: %v", StageCandidateEnricher, cand.Key(), r.Err))
					continue
				}
				for _, v := range r.Value.companies {
					companies[v.Company] = v
				}
				if r.Value.github != nil {
					github[cand.Key()] = *r.Value.github
				}
				for skill, related := range r.Value.related {
					taxonomy[skill] = related
				}
			}
			update := screenflow.Update{
				FieldCompanyVerification: companies,
				FieldGitHubAnalyses:      github,
				FieldSkillTaxonomy:       taxonomy,
			}
			if len(problems) > 0 {
				update[FieldErrors] = problems
			}
			return update, nil
		}),
		screenflow.WithReads(FieldJobRequirements, FieldCandidates, FieldToolPlan),
		screenflow.WithWrites(FieldCompanyVerification, FieldGitHubAnalyses, FieldSkillTaxonomy, FieldErrors),
		screenflow.WithPolicy(screenflow.CollectAndContinue),
	)
}

func skillMatcher(c Collaborators, opts []batch.Option) screenflow.Stage {
	return screenflow.StageFunc(StageSkillMatcher, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		job, candidates, err := jobAndCandidates(s)
		if err != nil {
			return nil, err
		}
		taxonomy, err := field[map[string][]string](s, FieldSkillTaxonomy)
		if err != nil {
			return nil, err
		}
		scores, err := batch.Map(ctx, candidates, func(ctx context.Context, cand Candidate) (SkillScore, error) {
			return c.MatchSkills(ctx, job, cand, taxonomy)
		}, opts...)
		if err != nil {
			return nil, err
		}
		return screenflow.Update{FieldSkillScores: scores}, nil
	},
		screenflow.WithReads(FieldJobRequirements, FieldCandidates, FieldSkillTaxonomy),
		screenflow.WithWrites(FieldSkillScores),
	)
}

func experienceAnalyzer(c Collaborators, opts []batch.Option) screenflow.Stage {
	return screenflow.StageFunc(StageExperienceAnalyzer, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		job, candidates, err := jobAndCandidates(s)
		if err != nil {
			return nil, err
		}
		companies, err := field[map[string]CompanyVerification](s, FieldCompanyVerification)
		if err != nil {
			return nil, err
		}
		passes, _, err := screenflow.Lookup[int](s, FieldReanalysisCount)
		if err != nil {
			return nil, err
		}
		scores, err := batch.Map(ctx, candidates, func(ctx context.Context, cand Candidate) (ExperienceScore, error) {
			return c.AnalyzeExperience(ctx, job, cand, companies, passes+1)
		}, opts...)
		if err != nil {
			return nil, err
		}
		return screenflow.Update{FieldExperienceScores: scores}, nil
	},
		screenflow.WithReads(FieldJobRequirements, FieldCandidates, FieldCompanyVerification, FieldReanalysisCount),
		screenflow.WithWrites(FieldExperienceScores),
	)
}

func educationVerifier(c Collaborators, opts []batch.Option) screenflow.Stage {
	return screenflow.StageFunc(StageEducationVerifier, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		job, candidates, err := jobAndCandidates(s)
		if err != nil {
			return nil, err
		}
		scores, err := batch.Map(ctx, candidates, func(ctx context.Context, cand Candidate) (EducationScore, error) {
			return c.VerifyEducation(ctx, job, cand)
		}, opts...)
		if err != nil {
			return nil, err
		}
		return screenflow.Update{FieldEducationScores: scores}, nil
	},
		screenflow.WithReads(FieldJobRequirements, FieldCandidates),
		screenflow.WithWrites(FieldEducationScores),
	)
}

func scorer(c Collaborators) screenflow.Stage {
	return screenflow.StageFunc(StageScorer, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		skills, err := field[[]SkillScore](s, FieldSkillScores)
		if err != nil {
			return nil, err
		}
		experience, err := field[[]ExperienceScore](s, FieldExperienceScores)
		if err != nil {
			return nil, err
		}
		education, err := field[[]EducationScore](s, FieldEducationScores)
		if err != nil {
			return nil, err
		}
		if len(skills) != len(experience) || len(skills) != len(education) {
			return nil, fmt.Errorf("score lists disagree: %d skill, %d experience, %d education",
				len(skills), len(experience), len(education))
		}

		scores := make([]CandidateScore, len(skills))
		for i := range skills {
			scores[i], err = c.Score(ctx, Scorecard{
				Candidate:  skills[i].Candidate,
				Skills:     skills[i],
				Experience: experience[i],
				Education:  education[i],
			})
			if err != nil {
				return nil, fmt.Errorf("score %s: %w", skills[i].Candidate, err)
			}
		}

		order := make([]int, len(scores))
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int {
			return cmp.Compare(scores[b].Total, scores[a].Total)
		})
		ranked := make([]CandidateScore, len(scores))
		for rank, i := range order {
			scores[i].Rank = rank + 1
			ranked[rank] = scores[i]
		}
		return screenflow.Update{FieldCandidateScores: scores, FieldRankedCandidates: ranked}, nil
	},
		screenflow.WithReads(FieldSkillScores, FieldExperienceScores, FieldEducationScores),
		screenflow.WithWrites(FieldCandidateScores, FieldRankedCandidates),
	)
}

func qualityChecker(c Collaborators) screenflow.Stage {
	return screenflow.StageFunc(StageQualityChecker, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		scores, err := field[[]CandidateScore](s, FieldCandidateScores)
		if err != nil {
			return nil, err
		}
		experience, err := field[[]ExperienceScore](s, FieldExperienceScores)
		if err != nil {
			return nil, err
		}
		check, err := c.CheckQuality(ctx, scores, experience)
		if err != nil {
			return nil, err
		}
		return screenflow.Update{FieldQualityCheck: check.Record()}, nil
	},
		screenflow.WithReads(FieldCandidateScores, FieldExperienceScores),
		screenflow.WithWrites(FieldQualityCheck),
	)
}

func biasDetector(c Collaborators) screenflow.Stage {
	return screenflow.StageFunc(StageBiasDetector, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		desc, _, err := screenflow.Lookup[string](s, FieldJobDescription)
		if err != nil {
			return nil, err
		}
		ranked, err := field[[]CandidateScore](s, FieldRankedCandidates)
		if err != nil {
			return nil, err
		}
		analysis, err := c.DetectBias(ctx, desc, ranked)
		if err != nil {
			return nil, err
		}
		return screenflow.Update{FieldBiasAnalysis: analysis}, nil
	},
		screenflow.WithReads(FieldJobDescription, FieldRankedCandidates),
		screenflow.WithWrites(FieldBiasAnalysis),
		screenflow.WithPolicy(screenflow.CollectAndContinue),
	)
}

func salaryEstimator(c Collaborators, opts []batch.Option) screenflow.Stage {
	return perCandidate(StageSalaryEstimator, FieldSalaryEstimates, c.EstimateSalary, opts)
}

func atsScorer(c Collaborators, opts []batch.Option) screenflow.Stage {
	return perCandidate(StageATSScorer, FieldATSScores, c.ScoreATS, opts)
}

// perCandidate builds a collect-and-continue stage that writes fn's result
// for every candidate into a map keyed by candidate key.
func perCandidate[R any](name, to string, fn func(context.Context, JobRequirements, Candidate) (R, error), opts []batch.Option) screenflow.Stage {
	return screenflow.StageFunc(name, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		job, candidates, err := jobAndCandidates(s)
		if err != nil {
			return nil, err
		}
		results, err := batch.Map(ctx, candidates, func(ctx context.Context, cand Candidate) (R, error) {
			return fn(ctx, job, cand)
		}, opts...)
		if err != nil {
			return nil, err
		}
		out := make(map[string]R, len(candidates))
		for i, cand := range candidates {
			out[cand.Key()] = results[i]
		}
		return screenflow.Update{to: out}, nil
	},
		screenflow.WithReads(FieldJobRequirements, FieldCandidates),
		screenflow.WithWrites(to),
		screenflow.WithPolicy(screenflow.CollectAndContinue),
	)
}

func reportGenerator(c Collaborators) screenflow.Stage {
	return screenflow.StageFunc(StageReportGenerator, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		var (
			in  ReportInput
			err error
		)
		if in.Job, err = field[JobRequirements](s, FieldJobRequirements); err != nil {
			return nil, err
		}
		if in.Ranked, err = field[[]CandidateScore](s, FieldRankedCandidates); err != nil {
			return nil, err
		}
		if in.Quality, err = field[QualityCheck](s, FieldQualityCheck); err != nil {
			return nil, err
		}
		if in.Bias, err = field[BiasAnalysis](s, FieldBiasAnalysis); err != nil {
			return nil, err
		}
		if in.Salaries, err = field[map[string]SalaryEstimate](s, FieldSalaryEstimates); err != nil {
			return nil, err
		}
		if in.ATS, err = field[map[string]ATSScore](s, FieldATSScores); err != nil {
			return nil, err
		}
		if in.Reanalyzed, _, err = screenflow.Lookup[int](s, FieldReanalysisCount); err != nil {
			return nil, err
		}
		if in.Errors, err = field[[]string](s, FieldErrors); err != nil {
			return nil, err
		}

		report, err := c.WriteReport(ctx, in)
		if err != nil {
			return nil, err
		}
		return screenflow.Update{FieldReport: report}, nil
	},
		screenflow.WithReads(
			FieldJobRequirements, FieldRankedCandidates, FieldQualityCheck, FieldBiasAnalysis,
			FieldSalaryEstimates, FieldATSScores, FieldReanalysisCount, FieldErrors,
		),
		screenflow.WithWrites(FieldReport),
	)
}

func questionGenerator(c Collaborators, opts []batch.Option) screenflow.Stage {
	return screenflow.StageFunc(StageQuestionGenerator, func(ctx context.Context, s screenflow.StateReader) (screenflow.Update, error) {
		job, candidates, err := jobAndCandidates(s)
		if err != nil {
			return nil, err
		}
		skills, err := field[[]SkillScore](s, FieldSkillScores)
		if err != nil {
			return nil, err
		}
		byKey := make(map[string]SkillScore, len(skills))
		for _, sk := range skills {
			byKey[sk.Candidate] = sk
		}
		questions, err := batch.Map(ctx, candidates, func(ctx context.Context, cand Candidate) ([]string, error) {
			return c.InterviewQuestions(ctx, job, cand, byKey[cand.Key()])
		}, opts...)
		if err != nil {
			return nil, err
		}
		out := make(map[string][]string, len(candidates))
		for i, cand := range candidates {
			out[cand.Key()] = questions[i]
		}
		return screenflow.Update{FieldInterviewQuestions: out}, nil
	},
		screenflow.WithReads(FieldJobRequirements, FieldCandidates, FieldSkillScores),
		screenflow.WithWrites(FieldInterviewQuestions),
		screenflow.WithPolicy(screenflow.CollectAndContinue),
	)
}

// assignIDs gives every candidate a unique ID: its name, qualified by its
// file when another candidate has the same name.
func assignIDs(candidates []Candidate) {
	names := make(map[string]int, len(candidates))
	for _, c := range candidates {
		names[c.Name]++
	}
	seen := make(map[string]bool, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		id := c.Name
		if names[id] > 1 {
			id = fmt.Sprintf("%s (%s)", c.Name, c.File)
		}
		for n := 2; seen[id]; n++ {
			id = fmt.Sprintf("%s (%s #%d)", c.Name, c.File, n)
		}
		seen[id] = true
		c.ID = id
	}
}

// field decodes a sub-record, returning the zero value when it is unpopulated.
func field[T any](s screenflow.StateReader, key string) (T, error) {
	v, _, err := screenflow.Decode[T](s, key)
	return v, err
}

func jobAndCandidates(s screenflow.StateReader) (JobRequirements, []Candidate, error) {
	job, ok, err := screenflow.Decode[JobRequirements](s, FieldJobRequirements)
	if err != nil {
		return job, nil, err
	}
	if !ok {
		return job, nil, errors.New("job requirements are missing")
	}
	candidates, err := field[[]Candidate](s, FieldCandidates)
	return job, candidates, err
}
