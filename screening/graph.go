package screening

import (
	_ "embed"
	"fmt"
	"slices"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/batch"
	"github.com/agentstation/screenflow/yaml"
)

// StageType is the definition stage type Register serves.
const StageType = "screening"

//go:embed pipeline.yaml
var pipeline []byte

// Pipeline returns the embedded pipeline definition.
func Pipeline() []byte {
	return slices.Clone(pipeline)
}

// NewGraph builds the screening pipeline in Go.
func NewGraph(c Collaborators, opts ...batch.Option) (*screenflow.Graph, error) {
	schema, err := Schema()
	if err != nil {
		return nil, err
	}
	needs, err := screenflow.JSONPathPredicate(FieldQualityCheck, "$.needs_reanalysis")
	if err != nil {
		return nil, err
	}
	router := screenflow.ReflectionRouter{NeedsRetry: needs, Counter: FieldReanalysisCount, Ceiling: MaxReanalysis}

	return screenflow.NewBuilder(schema).
		Add(Stages(c, opts...)...).
		Start(StageJobAnalyzer).
		Connect(StageJobAnalyzer, StageResumeParser).
		Connect(StageResumeParser, StageToolCoordinator).
		Connect(StageToolCoordinator, StageCandidateEnricher).
		Connect(StageCandidateEnricher, StageSkillMatcher).
		Connect(StageSkillMatcher, StageExperienceAnalyzer).
		Connect(StageExperienceAnalyzer, StageEducationVerifier).
		Connect(StageEducationVerifier, StageScorer).
		Connect(StageScorer, StageQualityChecker).
		Branch(StageQualityChecker, router, screenflow.Outcomes{
			Retry:   StageExperienceAnalyzer,
			Proceed: StageBiasDetector,
		}, FieldReanalysisCount, MaxReanalysis).
		Connect(StageBiasDetector, StageSalaryEstimator).
		Connect(StageSalaryEstimator, StageATSScorer).
		Connect(StageATSScorer, StageReportGenerator).
		Connect(StageReportGenerator, StageQuestionGenerator).
		Connect(StageQuestionGenerator, screenflow.End).
		Build()
}

// Register makes the pipeline stages available to loader as the
// "screening" stage type, looked up by stage name. A definition that
// declares reads or writes must match the stage's own contract.
func Register(loader *yaml.Loader, c Collaborators, opts ...batch.Option) {
	stages := make(map[string]screenflow.Stage)
	for _, s := range Stages(c, opts...) {
		stages[s.Name()] = s
	}
	loader.RegisterStageType(StageType, func(def *yaml.StageDefinition) (screenflow.Stage, error) {
		s, ok := stages[def.Name]
		if !ok {
			return nil, fmt.Errorf("no screening stage named %q", def.Name)
		}
		if len(def.Reads) > 0 && !sameFields(def.Reads, s.Reads()) {
			return nil, fmt.Errorf("stage %q declares reads %v, it reads %v", def.Name, def.Reads, s.Reads())
		}
		if len(def.Writes) > 0 && !sameFields(def.Writes, s.Writes()) {
			return nil, fmt.Errorf("stage %q declares writes %v, it writes %v", def.Name, def.Writes, s.Writes())
		}
		return s, nil
	})
}

// LoadGraph loads the embedded pipeline definition with stages backed by c.
func LoadGraph(c Collaborators, opts ...batch.Option) (*screenflow.Graph, error) {
	loader := yaml.NewLoader()
	Register(loader, c, opts...)
	return loader.LoadBytes(pipeline)
}

func sameFields(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
