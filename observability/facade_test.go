package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cogniforge/qpipeline/core"
)

func TestNewWithNoBackendConfiguredIsDisabled(t *testing.T) {
	f := New(context.Background(), Config{}, nil)
	if f.Enabled() {
		t.Fatal("expected a disabled façade when no backend is configured")
	}
}

func TestDisabledFacadeStartSpanReturnsNoOp(t *testing.T) {
	f := New(context.Background(), Config{}, nil)
	_, span := f.StartSpan(context.Background(), "test-span")
	if _, ok := span.(core.NoOpSpan); !ok {
		t.Fatalf("expected a NoOpSpan, got %T", span)
	}
}

func TestDisabledFacadeRecordMetricDoesNotPanic(t *testing.T) {
	f := New(context.Background(), Config{}, nil)
	f.RecordMetric(context.Background(), "generation.requested", 1, map[string]string{"provider": "openai"}, MetricCounter)
	f.RecordMetric(context.Background(), "judge.latency_ms", 42, map[string]string{"provider": "openai"}, MetricHistogram)
	f.RecordMetric(context.Background(), "queue.depth", 3, map[string]string{"stage": "generation"}, MetricUpDownCounter)
	f.RecordMetric(context.Background(), "breaker.state", 1, map[string]string{"provider": "openai"}, MetricGauge)
}

func TestRecordMetricCreatesOneInstrumentPerNameAndType(t *testing.T) {
	f := New(context.Background(), Config{PrometheusEnabled: true}, nil)
	if !f.Enabled() {
		t.Fatal("expected the façade to enable with Prometheus configured")
	}
	ctx := context.Background()

	f.RecordMetric(ctx, "api.calls", 1, map[string]string{"provider": "openai"}, MetricCounter)
	f.RecordMetric(ctx, "api.calls", 1, map[string]string{"provider": "anthropic"}, MetricCounter)
	if len(f.counters) != 1 {
		t.Fatalf("expected exactly 1 cached counter instrument, got %d", len(f.counters))
	}

	f.RecordMetric(ctx, "request.duration", 12.5, nil, MetricHistogram)
	if len(f.histograms) != 1 {
		t.Fatalf("expected exactly 1 cached histogram instrument, got %d", len(f.histograms))
	}

	f.RecordMetric(ctx, "queue.depth", 2, nil, MetricUpDownCounter)
	if len(f.updownCounters) != 1 {
		t.Fatalf("expected exactly 1 cached updown_counter instrument, got %d", len(f.updownCounters))
	}

	f.RecordMetric(ctx, "breaker.open_count", 1, map[string]string{"provider": "openai"}, MetricGauge)
	f.RecordMetric(ctx, "breaker.open_count", 2, map[string]string{"provider": "openai"}, MetricGauge)
	if len(f.gauges) != 1 {
		t.Fatalf("expected exactly 1 registered gauge instrument, got %d", len(f.gauges))
	}
	if got := f.gaugeValues["breaker.open_count"][gaugeLabelKey(map[string]string{"provider": "openai"})]; got != 2 {
		t.Fatalf("expected the gauge's stored value to be overwritten to 2, got %v", got)
	}
}

func TestGaugeLabelKeyRoundTrips(t *testing.T) {
	labels := map[string]string{"provider": "openai", "stage": "generation"}
	key := gaugeLabelKey(labels)
	got := gaugeLabelsFromKey(key)
	if len(got) != len(labels) {
		t.Fatalf("expected %d labels back, got %d (%+v)", len(labels), len(got), got)
	}
	for k, v := range labels {
		if got[k] != v {
			t.Fatalf("expected label %q=%q, got %q", k, v, got[k])
		}
	}
}

func TestRecordGaugeConcurrentWritesNeverCorruptLabelMap(t *testing.T) {
	f := New(context.Background(), Config{PrometheusEnabled: true}, nil)
	ctx := context.Background()

	const threads = 8
	const writesPerThread = 100

	var wg sync.WaitGroup
	for n := 0; n < threads; n++ {
		provider := fmt.Sprintf("provider-%d", n)
		wg.Add(1)
		go func(provider string) {
			defer wg.Done()
			for i := 0; i < writesPerThread; i++ {
				f.RecordMetric(ctx, "concurrent.gauge", float64(i), map[string]string{"provider": provider}, MetricGauge)
			}
		}(provider)
	}
	wg.Wait()

	f.gaugeMu.Lock()
	defer f.gaugeMu.Unlock()
	values := f.gaugeValues["concurrent.gauge"]
	if len(values) != threads {
		t.Fatalf("expected %d distinct label combinations, got %d", threads, len(values))
	}
	for key, v := range values {
		if v != float64(writesPerThread-1) {
			t.Fatalf("expected label %q's final value to be the last write (%d), got %v", key, writesPerThread-1, v)
		}
	}
}

func TestValidateMetricNameRejectsUppercaseAndSymbols(t *testing.T) {
	cases := map[string]bool{
		"generation.requested":  true,
		"circuit_breaker.state": true,
		"Generation.Requested":  false,
		"1generation":           false,
		"generation-requested":  false,
		"":                      false,
	}
	for name, want := range cases {
		if got := ValidateMetricName(name); got != want {
			t.Errorf("ValidateMetricName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestCaptureErrorAndCaptureMessageDoNotPanicWhenDisabled(t *testing.T) {
	f := New(context.Background(), Config{}, nil)
	f.SetTag("run_id", "abc123")
	f.CaptureError(errors.New("boom"), map[string]interface{}{"stage": "generation"})
	f.CaptureMessage("warn", "something noteworthy happened")
}

func TestGetTraceContextWithNoActiveSpanIsEmpty(t *testing.T) {
	f := New(context.Background(), Config{}, nil)
	ctx := f.GetTraceContext(context.Background())
	if len(ctx) != 0 {
		t.Fatalf("expected empty trace context, got %+v", ctx)
	}
}

func TestFlushAndShutdownAreSafeWhenDisabled(t *testing.T) {
	f := New(context.Background(), Config{}, nil)
	if err := f.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error flushing disabled façade: %v", err)
	}
	if err := f.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error shutting down disabled façade: %v", err)
	}
}

func TestCardinalityLimiterCollapsesOverflowToOther(t *testing.T) {
	c := newCardinalityLimiter(map[string]int{"provider": 2})
	defer c.stop()

	if got := c.checkAndLimit("api.calls", "provider", "openai"); got != "openai" {
		t.Fatalf("expected first value to pass through, got %q", got)
	}
	if got := c.checkAndLimit("api.calls", "provider", "anthropic"); got != "anthropic" {
		t.Fatalf("expected second value to pass through, got %q", got)
	}
	if got := c.checkAndLimit("api.calls", "provider", "gemini"); got != "other" {
		t.Fatalf("expected third distinct value to collapse to 'other', got %q", got)
	}
	if got := c.checkAndLimit("api.calls", "provider", "openai"); got != "openai" {
		t.Fatalf("expected a previously-seen value to keep passing through, got %q", got)
	}
}

func TestCardinalityLimiterPassesThroughUnlimitedLabels(t *testing.T) {
	c := newCardinalityLimiter(map[string]int{})
	defer c.stop()
	for i := 0; i < 10; i++ {
		if got := c.checkAndLimit("m", "unbounded_label", string(rune('a'+i))); got == "other" {
			t.Fatal("expected no limiting for a label with no configured limit")
		}
	}
}
