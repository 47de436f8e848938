// Package observability is the façade routing errors, metrics, and traces
// to configurable backends (C13): OTLP over HTTP for traces and metrics,
// optionally also a Prometheus scrape endpoint, with cardinality limiting
// and graceful no-op degradation when a backend is disabled or fails to
// initialize. Grounded on the teacher's telemetry package (instrument
// caching, cardinality limiting) generalized from "emit a GoMind framework
// metric" to "route an arbitrary pipeline event to whichever backends are
// configured."
package observability

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/cogniforge/qpipeline/core"
)

// MetricType selects which OTel instrument kind RecordMetric uses, per
// §4.13's four metric types.
type MetricType string

const (
	MetricCounter       MetricType = "counter"
	MetricHistogram     MetricType = "histogram"
	MetricGauge         MetricType = "gauge"
	MetricUpDownCounter MetricType = "updown_counter"
)

// metricNamePattern is the §4.13 naming rule: lowercase, [a-z0-9_.], must
// start with a letter.
var metricNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_.]*$`)

// Config controls which backends the façade initializes.
type Config struct {
	ServiceName       string
	OTLPEndpoint      string // host:port, no scheme; empty disables OTLP export
	OTLPInsecure      bool
	PrometheusEnabled bool
	CardinalityLimits map[string]int // per-label-name cap, e.g. {"question_type": 6}
}

// Facade is the single entry point every pipeline stage uses for
// observability. Every method is safe to call on a Facade returned by New,
// including one whose backends are disabled or failed to initialize: spans
// and metrics then become no-ops. A zero-value Facade has no logger and no
// maps; build one with New.
type Facade struct {
	cfg Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	cardinality *cardinalityLimiter
	logger      core.Logger

	mu             sync.Mutex
	counters       map[string]metric.Float64Counter
	histograms     map[string]metric.Float64Histogram
	updownCounters map[string]metric.Float64UpDownCounter
	gauges         map[string]metric.Float64ObservableGauge
	tags           map[string]string
	userContext    map[string]interface{}

	// gaugeMu protects gaugeValues separately from mu: the registered gauge
	// callback below may be invoked from the SDK's own export goroutine,
	// concurrently with RecordMetric calls recording new gauge values.
	gaugeMu     sync.Mutex
	gaugeValues map[string]map[string]float64 // metric name -> label key -> value

	enabled bool
}

// New builds a Facade from cfg. Initialization failures never return an
// error to the caller: the façade falls back to disabled/no-op and logs a
// warning, per §4.13's "ops before init or with disabled/failed backend
// become no-ops" rule.
func New(ctx context.Context, cfg Config, logger core.Logger) *Facade {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	f := &Facade{
		cfg:            cfg,
		logger:         logger,
		cardinality:    newCardinalityLimiter(cfg.CardinalityLimits),
		counters:       map[string]metric.Float64Counter{},
		histograms:     map[string]metric.Float64Histogram{},
		updownCounters: map[string]metric.Float64UpDownCounter{},
		gauges:         map[string]metric.Float64ObservableGauge{},
		gaugeValues:    map[string]map[string]float64{},
		tags:           map[string]string{},
		userContext:    map[string]interface{}{},
	}

	if cfg.OTLPEndpoint == "" && !cfg.PrometheusEnabled {
		logger.Debug("observability disabled: no backend configured", nil)
		return f
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceNameOrDefault(cfg.ServiceName)),
	))
	if err != nil {
		logger.Warn("observability: failed to build resource, disabling", map[string]interface{}{"error": err.Error()})
		return f
	}

	if cfg.OTLPEndpoint != "" {
		if err := f.initTracing(ctx, res); err != nil {
			logger.Warn("observability: failed to init tracing, spans will no-op", map[string]interface{}{"error": err.Error()})
		}
		if err := f.initOTLPMetrics(ctx, res); err != nil {
			logger.Warn("observability: failed to init OTLP metrics", map[string]interface{}{"error": err.Error()})
		}
	}
	if cfg.PrometheusEnabled && f.meterProvider == nil {
		if err := f.initPrometheusMetrics(res); err != nil {
			logger.Warn("observability: failed to init prometheus metrics", map[string]interface{}{"error": err.Error()})
		}
	}

	f.enabled = f.tracerProvider != nil || f.meterProvider != nil
	return f
}

func serviceNameOrDefault(name string) string {
	if name == "" {
		return "qpipeline"
	}
	return name
}

func (f *Facade) initTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(f.cfg.OTLPEndpoint)}
	if f.cfg.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("otlp trace exporter: %w", err)
	}
	f.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	f.tracer = f.tracerProvider.Tracer("qpipeline")
	return nil
}

func (f *Facade) initOTLPMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(f.cfg.OTLPEndpoint)}
	if f.cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("otlp metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	f.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	f.meter = f.meterProvider.Meter("qpipeline")
	return nil
}

func (f *Facade) initPrometheusMetrics(res *resource.Resource) error {
	reader, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("prometheus exporter: %w", err)
	}
	f.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	f.meter = f.meterProvider.Meter("qpipeline")
	return nil
}

// Enabled reports whether any backend initialized successfully.
func (f *Facade) Enabled() bool { return f.enabled }

// StartSpan implements core.Tracer. It no-ops when tracing was never
// initialized.
func (f *Facade) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	if f.tracer == nil {
		return ctx, core.NoOpSpan{}
	}
	spanCtx, span := f.tracer.Start(ctx, name)
	return spanCtx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End()                             { s.span.End() }
func (s *otelSpan) SetAttribute(key string, v interface{}) { s.span.SetAttributes(toAttribute(key, v)) }
func (s *otelSpan) RecordError(err error)            { s.span.RecordError(err) }
func (s *otelSpan) TraceID() string                  { return s.span.SpanContext().TraceID().String() }
func (s *otelSpan) SpanID() string                   { return s.span.SpanContext().SpanID().String() }

func toAttribute(key string, v interface{}) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	case bool:
		return attribute.Bool(key, val)
	default:
		return attribute.String(key, fmt.Sprintf("%v", val))
	}
}

// ValidateMetricName reports whether name satisfies the §4.13 naming rule.
func ValidateMetricName(name string) bool {
	return metricNamePattern.MatchString(name)
}

// RecordMetric records a measurement of the given metricType (§4.13:
// counter, histogram, gauge, or updown_counter) with cardinality-limited
// labels. It no-ops if the metric name is invalid (logging at debug level)
// or if no metrics backend is configured (silently).
func (f *Facade) RecordMetric(ctx context.Context, name string, value float64, labels map[string]string, metricType MetricType) {
	if !ValidateMetricName(name) {
		f.logger.Debug("observability: rejected invalid metric name", map[string]interface{}{"name": name})
		return
	}
	if f.meter == nil {
		return
	}

	limited := make(map[string]string, len(labels))
	for k, v := range labels {
		limited[k] = f.cardinality.checkAndLimit(name, k, v)
	}

	switch metricType {
	case MetricHistogram:
		hist, err := f.histogramFor(name)
		if err != nil {
			f.logger.Debug("observability: failed to create histogram", map[string]interface{}{"name": name, "error": err.Error()})
			return
		}
		hist.Record(ctx, value, metric.WithAttributes(attributesFor(limited)...))
	case MetricUpDownCounter:
		updown, err := f.upDownCounterFor(name)
		if err != nil {
			f.logger.Debug("observability: failed to create updown_counter", map[string]interface{}{"name": name, "error": err.Error()})
			return
		}
		updown.Add(ctx, value, metric.WithAttributes(attributesFor(limited)...))
	case MetricGauge:
		f.recordGauge(name, value, limited)
	default:
		counter, err := f.counterFor(name)
		if err != nil {
			f.logger.Debug("observability: failed to create counter", map[string]interface{}{"name": name, "error": err.Error()})
			return
		}
		counter.Add(ctx, value, metric.WithAttributes(attributesFor(limited)...))
	}
}

func (f *Facade) counterFor(name string) (metric.Float64Counter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.counters[name]; ok {
		return c, nil
	}
	c, err := f.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	f.counters[name] = c
	return c, nil
}

func (f *Facade) histogramFor(name string) (metric.Float64Histogram, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.histograms[name]; ok {
		return h, nil
	}
	h, err := f.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	f.histograms[name] = h
	return h, nil
}

func (f *Facade) upDownCounterFor(name string) (metric.Float64UpDownCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.updownCounters[name]; ok {
		return u, nil
	}
	u, err := f.meter.Float64UpDownCounter(name)
	if err != nil {
		return nil, err
	}
	f.updownCounters[name] = u
	return u, nil
}

// recordGauge stores the current value under gaugeMu and lazily registers
// one observable-gauge callback per metric name. The callback reports
// whatever is currently stored at scrape time, which is how OTel models
// true gauge semantics (a reported current value, not an accumulation) per
// §4.13 and the §5 mutual-exclusion requirement on the gauge callback's
// label map.
func (f *Facade) recordGauge(name string, value float64, labels map[string]string) {
	key := gaugeLabelKey(labels)

	f.gaugeMu.Lock()
	if f.gaugeValues[name] == nil {
		f.gaugeValues[name] = map[string]float64{}
	}
	f.gaugeValues[name][key] = value
	f.gaugeMu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.gauges[name]; exists {
		return
	}

	gauge, err := f.meter.Float64ObservableGauge(name)
	if err != nil {
		f.logger.Debug("observability: failed to create gauge", map[string]interface{}{"name": name, "error": err.Error()})
		return
	}
	_, err = f.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		f.gaugeMu.Lock()
		snapshot := make(map[string]float64, len(f.gaugeValues[name]))
		for k, v := range f.gaugeValues[name] {
			snapshot[k] = v
		}
		f.gaugeMu.Unlock()
		for labelKey, v := range snapshot {
			o.ObserveFloat64(gauge, v, metric.WithAttributes(attributesFor(gaugeLabelsFromKey(labelKey))...))
		}
		return nil
	}, gauge)
	if err != nil {
		f.logger.Debug("observability: failed to register gauge callback", map[string]interface{}{"name": name, "error": err.Error()})
		return
	}
	f.gauges[name] = gauge
}

func attributesFor(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// gaugeLabelKey collapses a label set into one map key for gaugeValues.
// gaugeLabelsFromKey is its inverse, used by the callback to reconstruct
// attributes for each distinct label combination observed so far.
func gaugeLabelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, "\x1f")
}

func gaugeLabelsFromKey(key string) map[string]string {
	if key == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(key, "\x1f") {
		if i := strings.IndexByte(part, '='); i >= 0 {
			out[part[:i]] = part[i+1:]
		}
	}
	return out
}

// RecordEvent is a structured, tag-annotated log line routed through the
// façade (not a metric or a span) for one-off occurrences worth recording
// without a full trace.
func (f *Facade) RecordEvent(name string, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(fields)+len(f.tags))
	for k, v := range f.tags {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	f.logger.Info(name, merged)
}

// CaptureError logs an error with the façade's current tag/user context.
// There is no dedicated error-tracking backend wired here (§4.13
// Non-goals): errors are surfaced through the structured logger.
func (f *Facade) CaptureError(err error, fields map[string]interface{}) {
	if err == nil {
		return
	}
	merged := make(map[string]interface{}, len(fields)+len(f.tags)+1)
	merged["error"] = err.Error()
	for k, v := range f.tags {
		merged[k] = v
	}
	f.mu.Lock()
	for k, v := range f.userContext {
		merged[k] = v
	}
	f.mu.Unlock()
	for k, v := range fields {
		merged[k] = v
	}
	f.logger.Error("captured error", merged)
}

// CaptureMessage logs a message at the given severity with façade context.
func (f *Facade) CaptureMessage(level, message string) {
	fields := map[string]interface{}{}
	for k, v := range f.tags {
		fields[k] = v
	}
	switch level {
	case "error", "critical":
		f.logger.Error(message, fields)
	case "warn", "warning":
		f.logger.Warn(message, fields)
	default:
		f.logger.Info(message, fields)
	}
}

// SetUser attaches a user identifier to errors captured afterwards with
// CaptureError.
func (f *Facade) SetUser(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userContext["user_id"] = id
}

// SetTag sets a key/value pair attached to every future CaptureError,
// CaptureMessage, and RecordEvent call.
func (f *Facade) SetTag(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[key] = value
}

// SetContext merges an arbitrary named context blob into the user context.
func (f *Facade) SetContext(name string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userContext[name] = data
}

// GetTraceContext extracts the active span's trace/span IDs for
// cross-process propagation, or an empty map if there is no active span.
func (f *Facade) GetTraceContext(ctx context.Context) map[string]string {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.SpanContext().IsValid() {
		return map[string]string{}
	}
	return map[string]string{
		"trace_id": span.SpanContext().TraceID().String(),
		"span_id":  span.SpanContext().SpanID().String(),
	}
}

// Flush blocks until any buffered spans/metrics are exported.
func (f *Facade) Flush(ctx context.Context) error {
	var err error
	if f.tracerProvider != nil {
		if fErr := f.tracerProvider.ForceFlush(ctx); fErr != nil {
			err = fErr
		}
	}
	if f.meterProvider != nil {
		if fErr := f.meterProvider.ForceFlush(ctx); fErr != nil {
			err = fErr
		}
	}
	return err
}

// Shutdown flushes and releases backend resources. Safe to call on a
// disabled façade.
func (f *Facade) Shutdown(ctx context.Context) error {
	f.cardinality.stop()
	var err error
	if f.tracerProvider != nil {
		if sErr := f.tracerProvider.Shutdown(ctx); sErr != nil {
			err = sErr
		}
	}
	if f.meterProvider != nil {
		if sErr := f.meterProvider.Shutdown(ctx); sErr != nil {
			err = sErr
		}
	}
	return err
}

var _ core.Tracer = (*Facade)(nil)
