// Package llm defines the uniform provider contract (C4) and the shared
// HTTP/base-client machinery every concrete adapter (openai, anthropic,
// gemini, xai, bedrock) builds on, grounded on the teacher's
// ai/providers/base.go.
package llm

import (
	"context"

	"github.com/cogniforge/qpipeline/core"
)

// GenerateOptions carries the per-call knobs every adapter method accepts.
type GenerateOptions struct {
	Temperature   float32
	MaxTokens     int
	ModelOverride string
}

// ResponseSchema is an opaque JSON-schema-shaped description of the
// structured value a caller expects back; adapters append it to the prompt
// verbatim when the provider lacks native structured output.
type ResponseSchema map[string]interface{}

// Provider is the contract every LLM adapter satisfies (§4.4).
type Provider interface {
	Name() string

	GenerateCompletion(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	GenerateCompletionWithUsage(ctx context.Context, prompt string, opts GenerateOptions) (core.CompletionResult, error)

	GenerateStructuredCompletion(ctx context.Context, prompt string, schema ResponseSchema, opts GenerateOptions) (map[string]interface{}, error)
	GenerateStructuredCompletionWithUsage(ctx context.Context, prompt string, schema ResponseSchema, opts GenerateOptions) (core.CompletionResult, error)

	CountTokens(text string) int
	FetchAvailableModels(ctx context.Context) []string
	Cleanup()
}

// ParseError signals a structured response body that failed to parse as
// JSON. It is non-retryable invalid_request per §4.4.
type ParseError struct {
	Provider string
	Body     string
	Err      error
}

func (e *ParseError) Error() string {
	return "parse error from " + e.Provider + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// StatusCode satisfies classify.HTTPStatusError so ParseErrors classify as
// invalid_request without the classifier needing to special-case this type.
func (e *ParseError) StatusCode() int { return 400 }
