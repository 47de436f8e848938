package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerEmitsStructuredJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger("qpipeline", "info", "json")
	l.output = &buf

	child := l.WithComponent("judge")
	child.Warn("evaluation timed out", map[string]interface{}{"item": 2})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "judge" || entry["level"] != "warn" || entry["item"].(float64) != 2 {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
}

func TestJSONLoggerSuppressesDebugBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger("qpipeline", "warn", "text")
	l.output = &buf

	l.Debug("should be suppressed", nil)
	l.Info("should also be suppressed", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn level, got %q", buf.String())
	}

	l.Error("should pass through", nil)
	if !strings.Contains(buf.String(), "should pass through") {
		t.Fatalf("expected error line to be logged, got %q", buf.String())
	}
}

func TestJSONLoggerTextFormatIncludesServiceAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger("qpipeline", "debug", "text")
	l.output = &buf

	l.Info("run started", map[string]interface{}{"requested": 5})
	line := buf.String()
	if !strings.Contains(line, "qpipeline") || !strings.Contains(line, "run started") || !strings.Contains(line, "requested=5") {
		t.Fatalf("unexpected text log line: %q", line)
	}
}
