// Package resilience implements the Retry Engine (C2) and Circuit Breaker
// Registry (C3), grounded on the teacher's resilience/retry.go and
// resilience/circuit_breaker.go.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cogniforge/qpipeline/core"
)

// RetryConfig configures the retry engine (§4.2 defaults).
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	ExpBase    float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: core.DefaultMaxRetries,
		BaseDelay:  core.DefaultBaseDelay,
		MaxDelay:   core.DefaultMaxDelay,
		ExpBase:    core.DefaultExpBase,
	}
}

// delay computes d_k = min(max_delay, base * exp_base^(attempt)), attempt
// 0-indexed, then applies ±25% jitter and floors at MinRetryDelay (§4.2, §8
// property 3).
func delay(cfg RetryConfig, attempt int, rng *rand.Rand) time.Duration {
	base := float64(cfg.BaseDelay) * pow(cfg.ExpBase, attempt)
	if max := float64(cfg.MaxDelay); base > max {
		base = max
	}
	jitter := (rng.Float64()*0.5 - 0.25) * base // Uniform(-0.25*d, +0.25*d)
	d := time.Duration(base + jitter)
	if d < core.MinRetryDelay {
		d = core.MinRetryDelay
	}
	return d
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// RetryMetrics accumulates thread-safe counters for the retry engine (§4.2).
type RetryMetrics struct {
	mu                sync.Mutex
	totalRetries       int64
	successfulRetries  int64
	exhaustedRetries   int64
	retriesByProvider  map[string]int64
}

func NewRetryMetrics() *RetryMetrics {
	return &RetryMetrics{retriesByProvider: make(map[string]int64)}
}

func (m *RetryMetrics) recordAttempt(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRetries++
	m.retriesByProvider[provider]++
}

func (m *RetryMetrics) recordSuccessfulRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successfulRetries++
}

func (m *RetryMetrics) recordExhausted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhaustedRetries++
}

// Snapshot is a point-in-time copy of the counters, safe to hand to callers.
type RetryMetricsSnapshot struct {
	TotalRetries      int64
	SuccessfulRetries int64
	ExhaustedRetries  int64
	RetriesByProvider map[string]int64
}

func (m *RetryMetrics) Snapshot() RetryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	byProvider := make(map[string]int64, len(m.retriesByProvider))
	for k, v := range m.retriesByProvider {
		byProvider[k] = v
	}
	return RetryMetricsSnapshot{
		TotalRetries:      m.totalRetries,
		SuccessfulRetries: m.successfulRetries,
		ExhaustedRetries:  m.exhaustedRetries,
		RetriesByProvider: byProvider,
	}
}

// Classifier is the narrow slice of package classify's contract the retry
// engine depends on, avoiding an import cycle and making the engine
// testable with fakes.
type Classifier func(err error, provider string) *core.ClassifiedError

// Engine executes thunks with capped exponential backoff plus jitter.
type Engine struct {
	Metrics    *RetryMetrics
	Classify   Classifier
	rngFactory func() *rand.Rand
}

func NewEngine(classify Classifier) *Engine {
	return &Engine{
		Metrics:  NewRetryMetrics(),
		Classify: classify,
		rngFactory: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

// WithRetry runs thunk, retrying on classified-retryable errors per cfg. A
// first-attempt success is not counted as a "retry success" — only a
// success after attempt > 0 is (§9 open question, preserved as designed).
func (e *Engine) WithRetry(ctx context.Context, provider string, cfg RetryConfig, thunk func() error) error {
	rng := e.rngFactory()

	for attempt := 0; ; attempt++ {
		err := thunk()
		if err == nil {
			if attempt > 0 {
				e.Metrics.recordSuccessfulRetry()
			}
			return nil
		}

		classified := e.Classify(err, provider)
		if classified == nil {
			// Not a classified provider error: re-raise as-is.
			return err
		}
		if !classified.IsRetryable {
			return classified
		}
		if attempt >= cfg.MaxRetries {
			e.Metrics.recordExhausted()
			return classified
		}

		e.Metrics.recordAttempt(provider)

		d := delay(cfg, attempt, rng)
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var ErrNotClassified = errors.New("error is not a classified provider error")
