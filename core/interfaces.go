// Package core provides the shared domain types, error taxonomy, and small
// cross-cutting interfaces (logging, telemetry) used by every pipeline stage.
package core

import (
	"context"
)

// Logger is the minimal structured logging interface used across the
// pipeline. It intentionally has no third-party dependency: every call site
// passes a message and a flat field map, the same shape the teacher's
// self-built logger uses.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a component tag its own log lines without each
// call site repeating the component name.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the default when no logger is wired.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

// Span represents one unit of work inside a trace.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
	TraceID() string
	SpanID() string
}

// Tracer starts spans. The observability façade implements this on top of
// OpenTelemetry; tests use NoOpTracer.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// NoOpSpan is returned whenever tracing is disabled or has failed to init.
type NoOpSpan struct{}

func (NoOpSpan) End()                             {}
func (NoOpSpan) SetAttribute(string, interface{}) {}
func (NoOpSpan) RecordError(error)                {}
func (NoOpSpan) TraceID() string                  { return "" }
func (NoOpSpan) SpanID() string                   { return "" }

// NoOpTracer implements Tracer as a no-op.
type NoOpTracer struct{}

func (NoOpTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, NoOpSpan{}
}
