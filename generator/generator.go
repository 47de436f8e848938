// Package generator fans out question-generation requests across the
// configured LLM providers, respecting circuit breakers and falling back
// round-robin when one opens (C7), grounded on the teacher's
// orchestration/executor.go provider-selection loop.
package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/llm"
	"github.com/cogniforge/qpipeline/prompts"
	"github.com/cogniforge/qpipeline/resilience"
)

// Batch is the result of one generate_batch call (§4.7). It may contain
// fewer than Requested questions.
type Batch struct {
	Questions       []core.GeneratedQuestion
	Requested       int
	ByProvider      map[string]int
	FailuresByCause map[string]int
	BreakerStates   map[string]core.CircuitBreakerState
}

// SuccessRate is Generated/Requested, 0 if nothing was requested.
func (b Batch) SuccessRate() float64 {
	if b.Requested == 0 {
		return 0
	}
	return float64(len(b.Questions)) / float64(b.Requested)
}

var ErrNoProvidersAvailable = core.ErrNoProvidersAvailable

// generationSchema is the ResponseSchema appended to every generation
// prompt (§4.4/§6.1).
var generationSchema = llm.ResponseSchema{
	"question_text":  "string",
	"correct_answer": "string",
	"answer_options": []string{},
	"explanation":    "string",
	"stimulus":       "string, required for memory questions",
}

// Generator drives the fan-out across providers.
type Generator struct {
	Providers     map[string]llm.Provider // keyed by provider name
	ProviderOrder []string                // deterministic round-robin order
	Breakers      *resilience.Registry
	RetryConfig   resilience.RetryConfig
	Costs         *llm.Tracker // per-provider, per-model cost rollup (C5)
	Logger        core.Logger
}

func New(providers map[string]llm.Provider, order []string, breakers *resilience.Registry) *Generator {
	return &Generator{
		Providers:     providers,
		ProviderOrder: order,
		Breakers:      breakers,
		RetryConfig:   resilience.DefaultRetryConfig(),
		Costs:         llm.NewTracker(0),
		Logger:        core.NoOpLogger{},
	}
}

func (g *Generator) availableProviders() []string {
	available := make([]string, 0, len(g.ProviderOrder))
	for _, name := range g.ProviderOrder {
		if g.Breakers.Get(name).IsAvailable() {
			available = append(available, name)
		}
	}
	return available
}

// GenerateBatch implements §4.7's algorithm for both distributed and
// non-distributed mode.
func (g *Generator) GenerateBatch(ctx context.Context, qType core.QuestionType, difficulty core.DifficultyLevel, count int, distribute bool, temperature float32, maxTokens int) (Batch, error) {
	batch := Batch{
		Requested:       count,
		ByProvider:      map[string]int{},
		FailuresByCause: map[string]int{},
	}

	available := g.availableProviders()
	if len(available) == 0 {
		return batch, ErrNoProvidersAvailable
	}

	if distribute {
		g.generateDistributed(ctx, &batch, qType, difficulty, count, temperature, maxTokens)
	} else {
		g.generateSingleProviderWithFallback(ctx, &batch, qType, difficulty, count, temperature, maxTokens)
	}

	batch.BreakerStates = g.Breakers.Snapshot()
	return batch, nil
}

func (g *Generator) generateDistributed(ctx context.Context, batch *Batch, qType core.QuestionType, difficulty core.DifficultyLevel, count int, temperature float32, maxTokens int) {
	for i := 0; i < count; i++ {
		available := g.availableProviders()
		if len(available) == 0 {
			batch.FailuresByCause["no_providers_available"]++
			continue
		}
		provider := available[i%len(available)]

		q, err := g.attemptOne(ctx, provider, qType, difficulty, temperature, maxTokens)
		if err != nil {
			if errors.Is(err, core.ErrCircuitBreakerOpen) {
				batch.FailuresByCause["circuit_open"]++
				// Fallback: try any other currently available provider once.
				fallback := pickFallback(available, provider)
				if fallback != "" {
					if q2, err2 := g.attemptOne(ctx, fallback, qType, difficulty, temperature, maxTokens); err2 == nil {
						batch.Questions = append(batch.Questions, q2)
						batch.ByProvider[fallback]++
						continue
					}
					batch.FailuresByCause["fallback_failed"]++
				}
				continue
			}
			batch.FailuresByCause["generation_error"]++
			continue
		}
		batch.Questions = append(batch.Questions, q)
		batch.ByProvider[provider]++
	}
}

func (g *Generator) generateSingleProviderWithFallback(ctx context.Context, batch *Batch, qType core.QuestionType, difficulty core.DifficultyLevel, count int, temperature float32, maxTokens int) {
	order := g.ProviderOrder
	idx := 0
	for len(batch.Questions) < count && idx < len(order) {
		provider := order[idx]
		if !g.Breakers.Get(provider).IsAvailable() {
			idx++
			continue
		}
		q, err := g.attemptOne(ctx, provider, qType, difficulty, temperature, maxTokens)
		if err != nil {
			if errors.Is(err, core.ErrCircuitBreakerOpen) {
				batch.FailuresByCause["circuit_open"]++
				idx++
				continue
			}
			batch.FailuresByCause["generation_error"]++
			continue
		}
		batch.Questions = append(batch.Questions, q)
		batch.ByProvider[provider]++
	}
}

// pickFallback returns the first available provider that is not exclude, or
// "" if none exists.
func pickFallback(available []string, exclude string) string {
	for _, p := range available {
		if p != exclude {
			return p
		}
	}
	return ""
}

// attemptOne calls providerName's adapter directly. The adapter's own
// BaseClient.CallWithResilience already runs the call under the same
// *resilience.CircuitBreaker g.Breakers hands out for providerName (every
// adapter is constructed with breakers.Get(name), see cmd/qpipeline/main.go),
// so wrapping this call in a second breaker.Execute here would double-count
// every failure against that one breaker's consecutive-failure counter and
// starve its single HALF_OPEN probe slot between two competing Execute
// calls, per §4.3. Circuit-open outcomes still surface to the caller as
// core.ErrCircuitBreakerOpen for the fallback/accounting logic above.
func (g *Generator) attemptOne(ctx context.Context, providerName string, qType core.QuestionType, difficulty core.DifficultyLevel, temperature float32, maxTokens int) (core.GeneratedQuestion, error) {
	provider, ok := g.Providers[providerName]
	if !ok {
		return core.GeneratedQuestion{}, fmt.Errorf("unknown provider %q", providerName)
	}

	prompt := prompts.BuildGenerationPrompt(qType, difficulty, 1)

	result, err := provider.GenerateStructuredCompletionWithUsage(ctx, prompt, generationSchema, llm.GenerateOptions{
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return core.GeneratedQuestion{}, err
	}
	if result.TokenUsage != nil {
		g.Costs.Record(*result.TokenUsage)
	}

	q, err := parseGeneratedQuestion(result.Structured, qType, difficulty, providerName)
	if err != nil {
		return core.GeneratedQuestion{}, err
	}
	if err := q.Validate(); err != nil {
		return core.GeneratedQuestion{}, err
	}
	return q, nil
}

func parseGeneratedQuestion(m map[string]interface{}, qType core.QuestionType, difficulty core.DifficultyLevel, providerName string) (core.GeneratedQuestion, error) {
	q := core.GeneratedQuestion{
		QuestionType:    qType,
		DifficultyLevel: difficulty,
		SourceLLM:       providerName,
		Metadata:        map[string]interface{}{},
	}

	if v, ok := m["question_text"].(string); ok {
		q.QuestionText = v
	}
	if v, ok := m["correct_answer"].(string); ok {
		q.CorrectAnswer = v
	}
	if v, ok := m["explanation"].(string); ok {
		q.Explanation = v
	}
	if v, ok := m["stimulus"].(string); ok {
		q.Stimulus = v
	}
	if raw, ok := m["answer_options"].([]interface{}); ok {
		opts := make([]string, 0, len(raw))
		for _, o := range raw {
			if s, ok := o.(string); ok {
				opts = append(opts, s)
			}
		}
		q.AnswerOptions = opts
	}

	if q.QuestionText == "" {
		return q, fmt.Errorf("generated response missing question_text")
	}
	return q, nil
}
