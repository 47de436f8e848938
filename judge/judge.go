// Package judge scores generated questions against the acceptance rubric
// and decides difficulty placement (C8). Concurrency is bounded by a
// counting semaphore, grounded on the teacher's orchestration/executor.go
// parallel-step loop (buffered-channel semaphore + WaitGroup + mutex
// protected results), adapted here to golang.org/x/sync/semaphore and to
// per-item error collection instead of whole-batch failure.
package judge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/llm"
	"github.com/cogniforge/qpipeline/prompts"
	"github.com/cogniforge/qpipeline/resilience"
)

// Config configures one Judge. Zero-value fields fall back to the §4.8/§3
// defaults via DefaultConfig.
type Config struct {
	MaxConcurrent      int
	Timeout            time.Duration
	Weights            core.EvaluationWeights
	MinScore           float64
	DowngradeThreshold float64
	UpgradeThreshold   float64
	TooEasyPatterns    []string
	TooHardPatterns    []string
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      core.DefaultMaxConcurrentEvaluations,
		Timeout:            core.DefaultJudgeTimeout,
		Weights:            core.DefaultEvaluationWeights(),
		MinScore:           core.DefaultMinScore,
		DowngradeThreshold: core.DefaultDowngradeThreshold,
		UpgradeThreshold:   core.DefaultUpgradeThreshold,
		TooEasyPatterns:    []string{"too easy", "trivial", "obvious"},
		TooHardPatterns:    []string{"too hard", "too difficult", "confusing", "ambiguous"},
	}
}

var evaluationSchema = llm.ResponseSchema{
	"clarity_score":    "number in [0,1]",
	"difficulty_score": "number in [0,1]",
	"validity_score":   "number in [0,1]",
	"formatting_score": "number in [0,1]",
	"creativity_score": "number in [0,1]",
	"feedback":         "string",
}

// BatchStats summarizes one EvaluateBatch call for the metrics tracker (C12).
type BatchStats struct {
	Evaluated       int
	Approved        int
	Rejected        int
	Failed          int
	FailuresByCause map[string]int
}

// Judge evaluates candidates against one or more provider-backed judge
// models, selected per question type with a preferred -> alternate ->
// any-available fallback chain.
type Judge struct {
	Providers        map[string]llm.Provider
	ModelsByType     map[core.QuestionType][]string // provider names, preference order
	DefaultProviders []string                       // used when a type has no specific chain configured
	Breakers         *resilience.Registry
	Config           Config
	Costs            *llm.Tracker // per-provider, per-model cost rollup (C5)
	Logger           core.Logger
}

func New(providers map[string]llm.Provider, modelsByType map[core.QuestionType][]string, defaultProviders []string, breakers *resilience.Registry) *Judge {
	return &Judge{
		Providers:        providers,
		ModelsByType:     modelsByType,
		DefaultProviders: defaultProviders,
		Breakers:         breakers,
		Config:           DefaultConfig(),
		Costs:            llm.NewTracker(0),
		Logger:           core.NoOpLogger{},
	}
}

// resolveProvider walks the preferred -> alternate -> any-available chain
// for qType and returns the first provider name whose breaker currently
// admits calls. It never substitutes silently: every fallback step is
// logged at warn level, mirroring the preferred/alternate/any-available
// resolution in the Python reference's judge_config.py (_resolve_provider),
// which logs a warning both when the preferred provider is skipped and when
// resolution falls all the way through to "any available".
func (j *Judge) resolveProvider(qType core.QuestionType) (string, error) {
	chain := j.ModelsByType[qType]
	if len(chain) == 0 {
		chain = j.DefaultProviders
	}
	for i, name := range chain {
		if _, ok := j.Providers[name]; !ok {
			continue
		}
		if j.Breakers.Get(name).IsAvailable() {
			if i > 0 {
				j.Logger.Warn("judge provider fallback: using alternate provider", map[string]interface{}{
					"question_type":      string(qType),
					"preferred_provider": chain[0],
					"resolved_provider":  name,
					"chain_position":     i,
				})
			}
			return name, nil
		}
	}
	j.Logger.Warn("judge provider fallback: no provider in chain available, trying any configured provider", map[string]interface{}{
		"question_type": string(qType),
		"chain":         chain,
	})
	// Any-available: fall through to any configured provider not yet tried.
	for name := range j.Providers {
		if j.Breakers.Get(name).IsAvailable() {
			j.Logger.Warn("judge provider fallback: resolved to any-available provider outside the configured chain", map[string]interface{}{
				"question_type":    string(qType),
				"resolved_provider": name,
			})
			return name, nil
		}
	}
	return "", fmt.Errorf("no judge provider available for type %q", qType)
}

// EvaluateBatch runs all candidates concurrently, bounded by
// Config.MaxConcurrent, each under Config.Timeout. Per-item failures are
// collected, not retried here (§4.8 step 5), and never fail the batch.
func (j *Judge) EvaluateBatch(ctx context.Context, candidates []core.GeneratedQuestion, temperature float32, maxTokens int) ([]core.EvaluatedQuestion, BatchStats) {
	sem := semaphore.NewWeighted(int64(maxConcurrentOrDefault(j.Config.MaxConcurrent)))
	results := make([]*core.EvaluatedQuestion, len(candidates))
	var mu sync.Mutex
	stats := BatchStats{FailuresByCause: map[string]int{}}

	var wg sync.WaitGroup
	for i, candidate := range candidates {
		i, candidate := i, candidate
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				stats.Failed++
				stats.FailuresByCause["cancelled"]++
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			evaluated, err := j.evaluateOne(ctx, candidate, temperature, maxTokens)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				stats.FailuresByCause[failureCause(err)]++
				return
			}
			results[i] = &evaluated
		}()
	}
	wg.Wait()

	out := make([]core.EvaluatedQuestion, 0, len(candidates))
	for _, r := range results {
		if r == nil {
			continue
		}
		out = append(out, *r)
		stats.Evaluated++
		if r.Approved {
			stats.Approved++
		} else {
			stats.Rejected++
		}
	}
	return out, stats
}

func failureCause(err error) string {
	switch {
	case err == context.DeadlineExceeded:
		return "timeout"
	case core.IsCircuitOpen(err):
		return "circuit_open"
	default:
		return "evaluation_error"
	}
}

func maxConcurrentOrDefault(n int) int {
	if n <= 0 {
		return core.DefaultMaxConcurrentEvaluations
	}
	return n
}

// evaluateOne calls providerName's adapter directly, the same way
// generator.attemptOne does: the adapter's own BaseClient.CallWithResilience
// already executes under the *resilience.CircuitBreaker j.Breakers hands out
// for providerName, so a second breaker.Execute here would double-count
// failures and could trap the breaker in OPEN by consuming its HALF_OPEN
// probe slot before the adapter's own call runs, per §4.3.
func (j *Judge) evaluateOne(ctx context.Context, candidate core.GeneratedQuestion, temperature float32, maxTokens int) (core.EvaluatedQuestion, error) {
	providerName, err := j.resolveProvider(candidate.QuestionType)
	if err != nil {
		return core.EvaluatedQuestion{}, err
	}
	provider := j.Providers[providerName]

	timeout := j.Config.Timeout
	if timeout <= 0 {
		timeout = core.DefaultJudgeTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := prompts.BuildJudgePrompt(candidate.QuestionText, candidate.AnswerOptions, candidate.CorrectAnswer, candidate.QuestionType, candidate.DifficultyLevel, candidate.Stimulus)

	result, err := provider.GenerateStructuredCompletionWithUsage(callCtx, prompt, evaluationSchema, llm.GenerateOptions{
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return core.EvaluatedQuestion{}, context.DeadlineExceeded
		}
		return core.EvaluatedQuestion{}, err
	}
	if result.TokenUsage != nil {
		j.Costs.Record(*result.TokenUsage)
	}

	score, err := parseEvaluationScore(result.Structured)
	if err != nil {
		return core.EvaluatedQuestion{}, err
	}
	score.ComputeOverall(j.Config.Weights)

	placed := candidate
	placed.DifficultyLevel = PlaceDifficulty(candidate.DifficultyLevel, score.Difficulty, score.Feedback, j.Config)

	return core.EvaluatedQuestion{
		Question:   placed,
		Evaluation: score,
		JudgeModel: providerName,
		Approved:   score.Overall >= j.Config.MinScore,
	}, nil
}

func parseEvaluationScore(m map[string]interface{}) (core.EvaluationScore, error) {
	get := func(key string) (float64, bool) {
		v, ok := m[key]
		if !ok {
			return 0, false
		}
		f, ok := v.(float64)
		return f, ok
	}
	clarity, ok1 := get("clarity_score")
	difficulty, ok2 := get("difficulty_score")
	validity, ok3 := get("validity_score")
	formatting, ok4 := get("formatting_score")
	creativity, ok5 := get("creativity_score")
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return core.EvaluationScore{}, core.ErrParseError
	}
	feedback, _ := m["feedback"].(string)
	return core.EvaluationScore{
		Clarity:    clampUnit(clarity),
		Difficulty: clampUnit(difficulty),
		Validity:   clampUnit(validity),
		Formatting: clampUnit(formatting),
		Creativity: clampUnit(creativity),
		Feedback:   feedback,
	}, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PlaceDifficulty implements the §4.8 placement table: threshold-driven
// downgrade/upgrade first, phrase-matching fallback, otherwise unchanged.
func PlaceDifficulty(current core.DifficultyLevel, difficultyScore float64, feedback string, cfg Config) core.DifficultyLevel {
	downgrade := cfg.DowngradeThreshold
	if downgrade == 0 {
		downgrade = core.DefaultDowngradeThreshold
	}
	upgrade := cfg.UpgradeThreshold
	if upgrade == 0 {
		upgrade = core.DefaultUpgradeThreshold
	}

	if difficultyScore < downgrade {
		return current.Downgrade()
	}
	if difficultyScore > upgrade {
		return current.Upgrade()
	}

	lower := strings.ToLower(feedback)
	for _, pattern := range cfg.TooEasyPatterns {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return current.Downgrade()
		}
	}
	for _, pattern := range cfg.TooHardPatterns {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return current.Upgrade()
		}
	}
	return current
}
