// Package reporter posts a fixed-shape run summary to an external audit
// endpoint (C14), grounded on the teacher's base provider adapters'
// http.Client + structured-body JSON POST pattern (ai/providers/base.go),
// adapted here from "call an LLM" to "notify an audit service" — same
// shape, a different body and no retry (reporter failures never affect
// pipeline success, per §7).
package reporter

import (
	"time"

	"github.com/cogniforge/qpipeline/core"
)

// ProviderMetricPayload is one entry of the provider_metrics map (§6.2).
type ProviderMetricPayload struct {
	Generated int `json:"generated"`
	APICalls  int `json:"api_calls"`
	Failures  int `json:"failures"`
}

// ErrorSummaryPayload is the error_summary block (§6.2).
type ErrorSummaryPayload struct {
	ByCategory    map[string]int `json:"by_category,omitempty"`
	BySeverity    map[string]int `json:"by_severity,omitempty"`
	CriticalCount int            `json:"critical_count"`
}

// Payload is the exact JSON body POSTed to <backend>/v1/admin/generation-runs.
type Payload struct {
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     time.Time    `json:"completed_at"`
	DurationSeconds float64      `json:"duration_seconds"`
	Status          core.RunStatus `json:"status"`
	ExitCode        int          `json:"exit_code"`

	QuestionsRequested    int     `json:"questions_requested"`
	QuestionsGenerated    int     `json:"questions_generated"`
	GenerationFailures    int     `json:"generation_failures"`
	GenerationSuccessRate float64 `json:"generation_success_rate"`

	QuestionsEvaluated int     `json:"questions_evaluated"`
	QuestionsApproved  int     `json:"questions_approved"`
	QuestionsRejected  int     `json:"questions_rejected"`
	ApprovalRate       float64 `json:"approval_rate"`

	AvgArbiterScore float64 `json:"avg_arbiter_score"`
	MinArbiterScore float64 `json:"min_arbiter_score"`
	MaxArbiterScore float64 `json:"max_arbiter_score"`

	DuplicatesFound    int     `json:"duplicates_found"`
	ExactDuplicates    int     `json:"exact_duplicates"`
	SemanticDuplicates int     `json:"semantic_duplicates"`
	DuplicateRate      float64 `json:"duplicate_rate"`

	QuestionsInserted int `json:"questions_inserted"`
	InsertionFailures int `json:"insertion_failures"`

	OverallSuccessRate float64 `json:"overall_success_rate"`
	TotalErrors        int     `json:"total_errors"`
	TotalAPICalls      int     `json:"total_api_calls"`

	ProviderMetrics   map[string]ProviderMetricPayload `json:"provider_metrics,omitempty"`
	TypeMetrics       map[string]int                   `json:"type_metrics,omitempty"`
	DifficultyMetrics map[string]int                   `json:"difficulty_metrics,omitempty"`
	ErrorSummary      *ErrorSummaryPayload              `json:"error_summary,omitempty"`

	PromptVersion            string  `json:"prompt_version,omitempty"`
	ArbiterConfigVersion     string  `json:"arbiter_config_version,omitempty"`
	MinArbiterScoreThreshold float64 `json:"min_arbiter_score_threshold,omitempty"`

	Environment string `json:"environment,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// BuildPayload maps a core.RunSummary plus the terminal exit code into the
// §6.2 wire payload, canonicalizing type/difficulty keys without dropping
// unrecognized ones.
func BuildPayload(summary core.RunSummary, exitCode core.ExitCode) Payload {
	avg, min, max := summary.ArbiterScoreStats()

	providerMetrics := make(map[string]ProviderMetricPayload, len(summary.ProviderMetrics))
	for name, m := range summary.ProviderMetrics {
		providerMetrics[name] = ProviderMetricPayload{Generated: m.Generated, APICalls: m.APICalls, Failures: m.Failures}
	}

	byCategory := make(map[string]int, len(summary.Errors.ByCategory))
	for cat, n := range summary.Errors.ByCategory {
		byCategory[string(cat)] = n
	}
	bySeverity := make(map[string]int, len(summary.Errors.BySeverity))
	for sev, n := range summary.Errors.BySeverity {
		bySeverity[string(sev)] = n
	}

	return Payload{
		StartedAt:       summary.StartedAt,
		CompletedAt:     summary.CompletedAt,
		DurationSeconds: summary.DurationSeconds(),
		Status:          core.DeriveStatus(exitCode, summary.QuestionsInserted, summary.QuestionsRequested),
		ExitCode:        int(exitCode),

		QuestionsRequested:    summary.QuestionsRequested,
		QuestionsGenerated:    summary.QuestionsGenerated,
		GenerationFailures:    summary.GenerationFailures,
		GenerationSuccessRate: summary.GenerationSuccessRate(),

		QuestionsEvaluated: summary.QuestionsEvaluated,
		QuestionsApproved:  summary.QuestionsApproved,
		QuestionsRejected:  summary.QuestionsRejected,
		ApprovalRate:       summary.ApprovalRate(),

		AvgArbiterScore: avg,
		MinArbiterScore: min,
		MaxArbiterScore: max,

		DuplicatesFound:    summary.DuplicatesFound,
		ExactDuplicates:    summary.ExactDuplicates,
		SemanticDuplicates: summary.SemanticDuplicates,
		DuplicateRate:      summary.DuplicateRate(),

		QuestionsInserted: summary.QuestionsInserted,
		InsertionFailures: summary.InsertionFailures,

		OverallSuccessRate: summary.OverallSuccessRate(),
		TotalErrors:        summary.TotalErrors,
		TotalAPICalls:      summary.TotalAPICalls,

		ProviderMetrics:   providerMetrics,
		TypeMetrics:       canonicalizeTypeCounts(summary.TypeMetrics),
		DifficultyMetrics: canonicalizeDifficultyCounts(summary.DifficultyMetrics),
		ErrorSummary: &ErrorSummaryPayload{
			ByCategory:    byCategory,
			BySeverity:    bySeverity,
			CriticalCount: summary.Errors.CriticalCount,
		},

		PromptVersion:            summary.PromptVersion,
		ArbiterConfigVersion:     summary.ArbiterConfigVersion,
		MinArbiterScoreThreshold: summary.MinArbiterScoreThreshold,
		Environment:              summary.Environment,
		TriggeredBy:              summary.TriggeredBy,
	}
}

// canonicalizeTypeCounts remaps keys to their canonical enum spelling where
// possible, preserving unknown keys unchanged rather than dropping them
// (§4.14).
func canonicalizeTypeCounts(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		if canon, ok := core.CanonicalQuestionType(k); ok {
			out[string(canon)] += v
			continue
		}
		out[k] += v
	}
	return out
}

func canonicalizeDifficultyCounts(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		if canon, ok := core.CanonicalDifficulty(k); ok {
			out[string(canon)] += v
			continue
		}
		out[k] += v
	}
	return out
}
