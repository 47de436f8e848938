package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cogniforge/qpipeline/classify"
	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/resilience"
)

// BaseClient provides the HTTP client, retry/circuit-breaker wiring, and
// logging every concrete adapter embeds, grounded on
// ai/providers/base.go's BaseClient.
type BaseClient struct {
	ProviderName string
	HTTPClient   *http.Client
	Logger       core.Logger

	Breaker *resilience.CircuitBreaker
	Retry   *resilience.Engine

	DefaultModel       string
	DefaultTemperature float32
	DefaultMaxTokens   int
}

func NewBaseClient(name string, timeout time.Duration, logger core.Logger, breaker *resilience.CircuitBreaker) *BaseClient {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &BaseClient{
		ProviderName:       name,
		HTTPClient:         &http.Client{Timeout: timeout},
		Logger:             logger,
		Breaker:            breaker,
		Retry:              resilience.NewEngine(classify.Classify),
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   1000,
	}
}

// ApplyDefaults fills in unset GenerateOptions fields.
func (b *BaseClient) ApplyDefaults(opts GenerateOptions) GenerateOptions {
	if opts.Temperature == 0 {
		opts.Temperature = b.DefaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = b.DefaultMaxTokens
	}
	return opts
}

func (b *BaseClient) ModelFor(opts GenerateOptions) string {
	if opts.ModelOverride != "" {
		return opts.ModelOverride
	}
	return b.DefaultModel
}

// CallWithResilience runs fn (a single provider HTTP round trip) under the
// circuit breaker and then the retry engine, the ordering §4.4 requires:
// "route raw errors through §4.1, then §4.2" inside the breaker's admission
// check.
func (b *BaseClient) CallWithResilience(ctx context.Context, retryCfg resilience.RetryConfig, fn func() error) error {
	return b.Breaker.Execute(ctx, func() error {
		return b.Retry.WithRetry(ctx, b.ProviderName, retryCfg, fn)
	})
}

// statusError lets HandleError's output classify by status code via
// classify.HTTPStatusError.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) StatusCode() int { return e.status }

// HandleError builds a uniform error from an HTTP status and response body
// (§4.4, mirrors ai/providers/base.go's HandleError).
func (b *BaseClient) HandleError(statusCode int, body []byte) error {
	var msg string
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		msg = fmt.Sprintf("%s API error: invalid or missing API key", b.ProviderName)
	case http.StatusTooManyRequests:
		msg = fmt.Sprintf("%s API error: rate limit exceeded", b.ProviderName)
	case http.StatusBadRequest:
		msg = fmt.Sprintf("%s API error: invalid request - %s", b.ProviderName, string(body))
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		msg = fmt.Sprintf("%s API error: service temporarily unavailable (status %d)", b.ProviderName, statusCode)
	default:
		msg = fmt.Sprintf("%s API error (status %d): %s", b.ProviderName, statusCode, string(body))
	}
	return &statusError{status: statusCode, msg: msg}
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// StripJSONFence defensively removes a leading/trailing fenced code block
// before parsing a structured response body (§4.4 step 2).
func StripJSONFence(body string) string {
	trimmed := strings.TrimSpace(body)
	if m := fencedJSON.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// ParseStructured parses a (possibly fenced) JSON body into a map, raising
// ParseError on failure and returning an empty, non-error value for an empty
// body (§4.4 steps 2-3 and the "empty structured response" rule).
func ParseStructured(provider, body string) (map[string]interface{}, bool, error) {
	stripped := StripJSONFence(body)
	if stripped == "" {
		return map[string]interface{}{}, true, nil // empty: warn-and-return, not an error
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(stripped), &out); err != nil {
		return nil, false, &ParseError{Provider: provider, Body: body, Err: err}
	}
	return out, false, nil
}

// EstimateTokens approximates token count as len/4 when no tokenizer is
// available (§4.4).
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// ReasoningModelAdjustment describes the alternate max-tokens parameter name
// and multiplier some reasoning-oriented models require (§4.4).
type ReasoningModelAdjustment struct {
	AltParamName string
	Multiplier   int
}

// reasoningModelPrefixes mirrors ai/providers/openai/reasoning.go's o1-style
// model-id prefix match.
var reasoningModelPrefixes = []string{"o1", "o3", "o4-mini"}

// ReasoningAdjustmentFor returns the adjustment to apply for model, or false
// if model is not a reasoning model.
func ReasoningAdjustmentFor(model string) (ReasoningModelAdjustment, bool) {
	for _, prefix := range reasoningModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return ReasoningModelAdjustment{AltParamName: "max_completion_tokens", Multiplier: 4}, true
		}
	}
	return ReasoningModelAdjustment{}, false
}

// FillUsageEstimate substitutes an estimate when the provider omitted token
// usage fields (§4.4 step 3).
func FillUsageEstimate(usage *core.TokenUsage, prompt, content string) core.TokenUsage {
	if usage != nil && (usage.InputTokens != 0 || usage.OutputTokens != 0) {
		return *usage
	}
	return core.TokenUsage{
		InputTokens:  EstimateTokens(prompt),
		OutputTokens: EstimateTokens(content),
		Estimated:    true,
	}
}
