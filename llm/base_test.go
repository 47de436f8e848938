package llm

import (
	"errors"
	"testing"

	"github.com/cogniforge/qpipeline/core"
)

func TestStripJSONFenceRemovesFence(t *testing.T) {
	got := StripJSONFence("```json\n{\"a\":1}\n```")
	if got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestStripJSONFenceNoFenceIsUnchanged(t *testing.T) {
	got := StripJSONFence(`{"a":1}`)
	if got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestParseStructuredEmptyBodyReturnsEmptyNotError(t *testing.T) {
	val, wasEmpty, err := ParseStructured("openai", "   ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !wasEmpty {
		t.Fatal("expected wasEmpty true")
	}
	if len(val) != 0 {
		t.Fatalf("expected empty map, got %v", val)
	}
}

func TestParseStructuredInvalidJSONRaisesParseError(t *testing.T) {
	_, _, err := ParseStructured("openai", "not json at all")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if pe.StatusCode() != 400 {
		t.Fatalf("expected ParseError to classify as 400, got %d", pe.StatusCode())
	}
}

func TestParseStructuredValidFencedJSON(t *testing.T) {
	val, wasEmpty, err := ParseStructured("openai", "```json\n{\"clarity\": 0.9}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wasEmpty {
		t.Fatal("expected non-empty result")
	}
	if val["clarity"] != 0.9 {
		t.Fatalf("unexpected value: %v", val)
	}
}

func TestEstimateTokensApproximatesLenDividedByFour(t *testing.T) {
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("got %d, want 0 for empty string", got)
	}
	if got := EstimateTokens("ab"); got != 1 {
		t.Fatalf("got %d, want 1 for short non-empty string", got)
	}
}

func TestReasoningAdjustmentForKnownPrefixes(t *testing.T) {
	adj, ok := ReasoningAdjustmentFor("o1-preview")
	if !ok {
		t.Fatal("expected o1-preview to be recognized as a reasoning model")
	}
	if adj.AltParamName != "max_completion_tokens" || adj.Multiplier != 4 {
		t.Fatalf("unexpected adjustment: %+v", adj)
	}

	if _, ok := ReasoningAdjustmentFor("gpt-4o"); ok {
		t.Fatal("gpt-4o must not be treated as a reasoning model")
	}
}

func TestFillUsageEstimateKeepsRealUsage(t *testing.T) {
	real := &core.TokenUsage{InputTokens: 10, OutputTokens: 20}
	got := FillUsageEstimate(real, "prompt", "content")
	if got.InputTokens != 10 || got.OutputTokens != 20 || got.Estimated {
		t.Fatalf("expected real usage preserved, got %+v", got)
	}
}

func TestFillUsageEstimateSubstitutesWhenAbsent(t *testing.T) {
	got := FillUsageEstimate(nil, "a prompt of some length", "a response")
	if !got.Estimated {
		t.Fatal("expected Estimated true when usage absent")
	}
	if got.InputTokens == 0 {
		t.Fatal("expected non-zero estimated input tokens")
	}
}

func TestHandleErrorMapsStatusCodes(t *testing.T) {
	b := NewBaseClient("openai", 0, nil, nil)
	err := b.HandleError(429, nil)
	var se *statusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *statusError, got %T", err)
	}
	if se.StatusCode() != 429 {
		t.Fatalf("got %d", se.StatusCode())
	}
}
