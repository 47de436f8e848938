package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// JSONLogger is the process's concrete Logger, grounded on the teacher's
// telemetry.TelemetryLogger: JSON output for log aggregation, or a
// human-readable line for local development, gated by a configurable
// level. Unlike the teacher's telemetry logger it is an explicit
// dependency built once at the composition root rather than a
// package-level singleton (§9: "avoid ambient access").
type JSONLogger struct {
	mu        sync.Mutex
	level     string
	format    string // "json" or "text"
	service   string
	component string
	output    io.Writer
}

var logLevels = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// NewJSONLogger builds a logger writing to stdout. format is "json" or
// "text"; an unrecognized value falls back to "text". level is one of
// debug/info/warn/error; an unrecognized value logs everything.
func NewJSONLogger(service, level, format string) *JSONLogger {
	if format != "json" {
		format = "text"
	}
	return &JSONLogger{
		level:   strings.ToLower(level),
		format:  format,
		service: service,
		output:  os.Stdout,
	}
}

func (l *JSONLogger) WithComponent(component string) Logger {
	return &JSONLogger{level: l.level, format: l.format, service: l.service, component: component, output: l.output}
}

func (l *JSONLogger) Info(msg string, fields map[string]interface{})  { l.log("info", msg, fields) }
func (l *JSONLogger) Warn(msg string, fields map[string]interface{})  { l.log("warn", msg, fields) }
func (l *JSONLogger) Error(msg string, fields map[string]interface{}) { l.log("error", msg, fields) }
func (l *JSONLogger) Debug(msg string, fields map[string]interface{}) { l.log("debug", msg, fields) }

func (l *JSONLogger) log(level, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().UTC().Format(time.RFC3339)
	if l.format == "json" {
		entry := map[string]interface{}{"timestamp": ts, "level": level, "service": l.service, "message": msg}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.output, string(data))
		}
		return
	}

	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	if l.component != "" {
		fmt.Fprintf(l.output, "%s [%s] [%s:%s] %s%s\n", ts, strings.ToUpper(level), l.service, l.component, msg, b.String())
		return
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n", ts, strings.ToUpper(level), l.service, msg, b.String())
}

func (l *JSONLogger) shouldLog(level string) bool {
	want, ok := logLevels[l.level]
	if !ok {
		return true
	}
	got, ok := logLevels[level]
	if !ok {
		return true
	}
	return got >= want
}
