package config

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/judge"
)

// DefaultJudgeSpec is the default_judge block (§6.3): the judge model used
// for any question type with no specific entry in Judges.
type DefaultJudgeSpec struct {
	Model         string `yaml:"model"`
	Provider      string `yaml:"provider"`
	Rationale     string `yaml:"rationale"`
	Enabled       bool   `yaml:"enabled"`
	Fallback      bool   `yaml:"fallback"`
	FallbackModel string `yaml:"fallback_model"`
}

// DifficultyPlacementSpec carries the thresholds and phrase lists the
// judge uses to downgrade or upgrade a difficulty placement (§4.8).
type DifficultyPlacementSpec struct {
	DowngradeThreshold float64  `yaml:"downgrade_threshold"`
	UpgradeThreshold   float64  `yaml:"upgrade_threshold"`
	TooEasyPhrases     []string `yaml:"too_easy_phrases"`
	TooHardPhrases     []string `yaml:"too_hard_phrases"`
}

// JudgeDocument is the judge config YAML document (§6.3).
type JudgeDocument struct {
	Version             string                     `yaml:"version"`
	MinJudgeScore       float64                     `yaml:"min_judge_score"`
	EvaluationCriteria  core.EvaluationWeights      `yaml:"evaluation_criteria"`
	DifficultyPlacement DifficultyPlacementSpec     `yaml:"difficulty_placement"`
	DefaultJudge        DefaultJudgeSpec            `yaml:"default_judge"`
	Judges              map[string][]string         `yaml:"judges"`
}

// ParseJudgeDocument validates a judge config document against the §6.3
// schema, substituting ${ENV_VAR} references before parsing. Loading the
// document from disk at startup is deliberately out of scope (§1); this is
// the schema's round-trip surface, exercised directly against fixture bytes
// in tests.
func ParseJudgeDocument(raw []byte) (JudgeDocument, error) {
	var doc JudgeDocument
	if err := yaml.Unmarshal(expandEnv(raw), &doc); err != nil {
		return JudgeDocument{}, fmt.Errorf("config: parse judge document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return JudgeDocument{}, err
	}
	return doc, nil
}

// Validate enforces the §6.3 constraints: min_judge_score in range,
// evaluation_criteria weights summing to 1 within tolerance, and all six
// question-type keys present under judges.
func (d JudgeDocument) Validate() error {
	if d.MinJudgeScore < 0 || d.MinJudgeScore > 1 {
		return fmt.Errorf("config: min_judge_score %v out of [0,1]", d.MinJudgeScore)
	}
	if sum := d.EvaluationCriteria.Sum(); math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("config: evaluation_criteria weights sum to %v, want 1 +/- 0.01", sum)
	}
	for _, qt := range core.AllQuestionTypes {
		if _, ok := d.Judges[string(qt)]; !ok {
			return fmt.Errorf("config: judges missing required question type %q", qt)
		}
	}
	return nil
}

// ToJudgeConfig maps the document's tuning knobs onto judge.Config,
// leaving fields the document doesn't carry (MaxConcurrent, Timeout) at
// judge.DefaultConfig's values.
func (d JudgeDocument) ToJudgeConfig() judge.Config {
	cfg := judge.DefaultConfig()
	cfg.Weights = d.EvaluationCriteria
	cfg.MinScore = d.MinJudgeScore
	if d.DifficultyPlacement.DowngradeThreshold > 0 {
		cfg.DowngradeThreshold = d.DifficultyPlacement.DowngradeThreshold
	}
	if d.DifficultyPlacement.UpgradeThreshold > 0 {
		cfg.UpgradeThreshold = d.DifficultyPlacement.UpgradeThreshold
	}
	if len(d.DifficultyPlacement.TooEasyPhrases) > 0 {
		cfg.TooEasyPatterns = d.DifficultyPlacement.TooEasyPhrases
	}
	if len(d.DifficultyPlacement.TooHardPhrases) > 0 {
		cfg.TooHardPatterns = d.DifficultyPlacement.TooHardPhrases
	}
	return cfg
}

// ModelsByType converts the judges map into the provider-preference chains
// judge.New expects, falling back to DefaultJudge's provider for any type
// whose chain is empty.
func (d JudgeDocument) ModelsByType() map[core.QuestionType][]string {
	out := make(map[core.QuestionType][]string, len(d.Judges))
	for raw, chain := range d.Judges {
		qt, ok := core.CanonicalQuestionType(raw)
		if !ok {
			continue
		}
		if len(chain) == 0 && d.DefaultJudge.Provider != "" {
			chain = []string{d.DefaultJudge.Provider}
		}
		out[qt] = chain
	}
	return out
}

// DefaultProviders returns the fallback chain used for a question type
// with no specific entry: the default judge's provider, then its fallback
// provider if configured.
func (d JudgeDocument) DefaultProviders() []string {
	providers := []string{}
	if d.DefaultJudge.Provider != "" {
		providers = append(providers, d.DefaultJudge.Provider)
	}
	if d.DefaultJudge.Fallback && d.DefaultJudge.FallbackModel != "" {
		providers = append(providers, d.DefaultJudge.FallbackModel)
	}
	return providers
}
