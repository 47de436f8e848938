// Package gemini adapts Google's Generative Language API to llm.Provider,
// grounded on the teacher's ai/providers/gemini/client.go.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/llm"
	"github.com/cogniforge/qpipeline/resilience"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var hardCodedModels = []string{
	"gemini-1.5-pro",
	"gemini-1.5-flash",
	"gemini-1.5-flash-8b",
}

type Client struct {
	*llm.BaseClient
	apiKey  string
	baseURL string
}

func NewClient(apiKey, baseURL string, logger core.Logger, breaker *resilience.CircuitBreaker) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	base := llm.NewBaseClient("gemini", 60*time.Second, logger, breaker)
	base.DefaultModel = "gemini-1.5-flash"
	return &Client{BaseClient: base, apiKey: apiKey, baseURL: baseURL}
}

func (c *Client) Name() string                                     { return "gemini" }
func (c *Client) Cleanup()                                         { c.HTTPClient.CloseIdleConnections() }
func (c *Client) CountTokens(text string) int                      { return llm.EstimateTokens(text) }
func (c *Client) FetchAvailableModels(ctx context.Context) []string { return hardCodedModels }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (c *Client) doGenerate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, core.TokenUsage, error) {
	opts = c.ApplyDefaults(opts)
	model := c.ModelFor(opts)

	var text string
	var usage core.TokenUsage

	err := c.CallWithResilience(ctx, resilience.DefaultRetryConfig(), func() error {
		reqBody := generateRequest{
			Contents: []content{{Parts: []part{{Text: prompt}}}},
			GenerationConfig: generationConfig{
				Temperature:     opts.Temperature,
				MaxOutputTokens: opts.MaxTokens,
			},
		}
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return c.HandleError(resp.StatusCode, body)
		}

		var parsed generateResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return fmt.Errorf("gemini returned no candidates")
		}
		text = parsed.Candidates[0].Content.Parts[0].Text
		usage = core.TokenUsage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
			Model:        model,
			Provider:     "gemini",
		}
		return nil
	})

	return text, llm.FillUsageEstimate(&usage, prompt, text), err
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	text, _, err := c.doGenerate(ctx, prompt, opts)
	return text, err
}

func (c *Client) GenerateCompletionWithUsage(ctx context.Context, prompt string, opts llm.GenerateOptions) (core.CompletionResult, error) {
	text, usage, err := c.doGenerate(ctx, prompt, opts)
	if err != nil {
		return core.CompletionResult{}, err
	}
	return core.CompletionResult{Content: text, TokenUsage: &usage}, nil
}

func (c *Client) GenerateStructuredCompletion(ctx context.Context, prompt string, schema llm.ResponseSchema, opts llm.GenerateOptions) (map[string]interface{}, error) {
	result, err := c.GenerateStructuredCompletionWithUsage(ctx, prompt, schema, opts)
	if err != nil {
		return nil, err
	}
	return result.Structured, nil
}

func (c *Client) GenerateStructuredCompletionWithUsage(ctx context.Context, prompt string, schema llm.ResponseSchema, opts llm.GenerateOptions) (core.CompletionResult, error) {
	data, _ := json.Marshal(schema)
	augmented := prompt + "\n\nRespond with JSON matching this schema:\n" + string(data)
	text, usage, err := c.doGenerate(ctx, augmented, opts)
	if err != nil {
		return core.CompletionResult{}, err
	}

	structured, wasEmpty, err := llm.ParseStructured("gemini", text)
	if err != nil {
		return core.CompletionResult{}, err
	}
	if wasEmpty && c.Logger != nil {
		c.Logger.Warn("gemini returned an empty structured response", map[string]interface{}{"model": usage.Model})
	}

	return core.CompletionResult{Content: text, Structured: structured, TokenUsage: &usage}, nil
}
