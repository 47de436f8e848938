package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cogniforge/qpipeline/observability"
)

// RouteTarget is one of the three destinations a routing rule may name
// (§6.3): error_tracker, metrics_tracker, or both.
type RouteTarget string

const (
	RouteErrorTracker   RouteTarget = "error_tracker"
	RouteMetricsTracker RouteTarget = "metrics_tracker"
	RouteBoth           RouteTarget = "both"
)

func (t RouteTarget) valid() bool {
	switch t {
	case RouteErrorTracker, RouteMetricsTracker, RouteBoth:
		return true
	}
	return false
}

// RoutingSpec says which backend(s) receive errors, metrics, and traces.
type RoutingSpec struct {
	Errors  RouteTarget `yaml:"errors"`
	Metrics RouteTarget `yaml:"metrics"`
	Traces  RouteTarget `yaml:"traces"`
}

// ErrorTrackerSpec configures an external error-tracking backend (e.g. a
// Sentry-shaped DSN endpoint). The pipeline's façade surfaces captured
// errors as structured log events only, with no dedicated Sentry client;
// see DESIGN.md for why no Sentry SDK is wired.
type ErrorTrackerSpec struct {
	Enabled bool    `yaml:"enabled"`
	DSN     string  `yaml:"dsn"`
	Sample  float64 `yaml:"sample_rate"`
}

// MetricsTrackerSpec configures the OTLP/Prometheus metrics+tracing
// backend the façade actually talks to.
type MetricsTrackerSpec struct {
	Enabled           bool           `yaml:"enabled"`
	Endpoint          string         `yaml:"endpoint"`
	Insecure          bool           `yaml:"insecure"`
	PrometheusEnabled bool           `yaml:"prometheus_enabled"`
	SamplingRate      float64        `yaml:"sampling_rate"`
	CardinalityLimits map[string]int `yaml:"cardinality_limits"`
}

// ObservabilityDocument is the observability config YAML document (§6.3).
type ObservabilityDocument struct {
	ServiceName    string             `yaml:"service_name"`
	ErrorTracker   ErrorTrackerSpec   `yaml:"error_tracker"`
	MetricsTracker MetricsTrackerSpec `yaml:"metrics_tracker"`
	Routing        RoutingSpec        `yaml:"routing"`
}

// ParseObservabilityDocument validates an observability config document
// against the §6.3 schema, substituting ${ENV_VAR} references (typically in
// dsn/endpoint fields) before parsing. Loading the document from disk at
// startup is deliberately out of scope (§1); this is the schema's
// round-trip surface, exercised directly against fixture bytes in tests.
func ParseObservabilityDocument(raw []byte) (ObservabilityDocument, error) {
	var doc ObservabilityDocument
	if err := yaml.Unmarshal(expandEnv(raw), &doc); err != nil {
		return ObservabilityDocument{}, fmt.Errorf("config: parse observability document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return ObservabilityDocument{}, err
	}
	return doc, nil
}

// Validate enforces that every configured routing target names one of the
// three known destinations.
func (d ObservabilityDocument) Validate() error {
	for name, target := range map[string]RouteTarget{"errors": d.Routing.Errors, "metrics": d.Routing.Metrics, "traces": d.Routing.Traces} {
		if target == "" {
			continue
		}
		if !target.valid() {
			return fmt.Errorf("config: routing.%s %q is not one of error_tracker|metrics_tracker|both", name, target)
		}
	}
	return nil
}

// ToObservabilityConfig maps the document onto the façade's Config. Only
// the metrics_tracker block has a wired backend; error_tracker's DSN is
// retained on the document, is not checked by Validate, and is not dialed
// (see DESIGN.md).
func (d ObservabilityDocument) ToObservabilityConfig() observability.Config {
	if !d.MetricsTracker.Enabled {
		return observability.Config{ServiceName: d.ServiceName}
	}
	return observability.Config{
		ServiceName:       d.ServiceName,
		OTLPEndpoint:      d.MetricsTracker.Endpoint,
		OTLPInsecure:      d.MetricsTracker.Insecure,
		PrometheusEnabled: d.MetricsTracker.PrometheusEnabled,
		CardinalityLimits: d.MetricsTracker.CardinalityLimits,
	}
}
