package resilience

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/cogniforge/qpipeline/core"
)

func newDeterministicRand() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func retryableClassifier(err error, provider string) *core.ClassifiedError {
	if err == nil {
		return nil
	}
	return &core.ClassifiedError{
		Category:    core.CategoryServer,
		Severity:    core.SeverityHigh,
		IsRetryable: true,
		Message:     err.Error(),
		Provider:    provider,
		OriginalErr: err,
	}
}

func nonRetryableClassifier(err error, provider string) *core.ClassifiedError {
	if err == nil {
		return nil
	}
	return &core.ClassifiedError{
		Category:    core.CategoryAuthentication,
		Severity:    core.SeverityCritical,
		IsRetryable: false,
		Message:     err.Error(),
		Provider:    provider,
		OriginalErr: err,
	}
}

func fastCfg() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, ExpBase: 2.0}
}

func TestWithRetrySucceedsWithoutRetrying(t *testing.T) {
	e := NewEngine(retryableClassifier)
	calls := 0
	err := e.WithRetry(context.Background(), "openai", fastCfg(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
	if e.Metrics.Snapshot().SuccessfulRetries != 0 {
		t.Fatal("a first-attempt success must not count as a successful retry")
	}
}

func TestWithRetryRecoversAfterTransientFailures(t *testing.T) {
	e := NewEngine(retryableClassifier)
	calls := 0
	err := e.WithRetry(context.Background(), "openai", fastCfg(), func() error {
		calls++
		if calls < 3 {
			return errors.New("server error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	snap := e.Metrics.Snapshot()
	if snap.SuccessfulRetries != 1 {
		t.Fatalf("expected 1 successful retry, got %d", snap.SuccessfulRetries)
	}
	if snap.TotalRetries != 2 {
		t.Fatalf("expected 2 retry attempts recorded, got %d", snap.TotalRetries)
	}
}

func TestWithRetryExhaustsAfterMaxRetries(t *testing.T) {
	e := NewEngine(retryableClassifier)
	calls := 0
	err := e.WithRetry(context.Background(), "openai", fastCfg(), func() error {
		calls++
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != fastCfg().MaxRetries+1 {
		t.Fatalf("expected MaxRetries+1 calls, got %d", calls)
	}
	if e.Metrics.Snapshot().ExhaustedRetries != 1 {
		t.Fatal("expected exhaustion to be recorded")
	}
}

func TestWithRetryReraisesNonRetryableImmediately(t *testing.T) {
	e := NewEngine(nonRetryableClassifier)
	calls := 0
	err := e.WithRetry(context.Background(), "openai", fastCfg(), func() error {
		calls++
		return errors.New("invalid api key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("non-retryable errors must not be retried, got %d calls", calls)
	}
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	e := NewEngine(retryableClassifier)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, ExpBase: 2.0}
	err := e.WithRetry(ctx, "openai", cfg, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("server error")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDelayNeverExceedsMaxDelayPlusJitter(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 4 * time.Second, ExpBase: 2.0}
	rng := newDeterministicRand()
	for attempt := 0; attempt < 10; attempt++ {
		d := delay(cfg, attempt, rng)
		if d < core.MinRetryDelay {
			t.Fatalf("attempt %d: delay %v below floor", attempt, d)
		}
		upper := time.Duration(float64(cfg.MaxDelay) * 1.25)
		if d > upper {
			t.Fatalf("attempt %d: delay %v exceeds max_delay+jitter bound %v", attempt, d, upper)
		}
	}
}
