// Package openai adapts OpenAI's chat completions API to llm.Provider,
// grounded on the teacher's ai/providers/openai/client.go.
package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

// hardCodedModels is the authority when FetchAvailableModels cannot reach a
// live listing endpoint, newest-to-oldest (§4.4).
var hardCodedModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4-turbo",
	"gpt-4",
	"gpt-3.5-turbo",
	"o1-mini",
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
	base := llm.NewBaseClient("openai", 120*time.Second, logger, breaker)
	base.DefaultModel = "gpt-4o-mini"
	return &Client{BaseClient: base, apiKey: apiKey, baseURL: baseURL}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Cleanup() {
	c.HTTPClient.CloseIdleConnections()
}

func (c *Client) CountTokens(text string) int {
	return llm.EstimateTokens(text)
}

func (c *Client) FetchAvailableModels(ctx context.Context) []string {
	return hardCodedModels
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Temperature         float32       `json:"temperature,omitempty"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) buildRequest(model string, prompt string, opts llm.GenerateOptions) chatRequest {
	req := chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	if adj, ok := llm.ReasoningAdjustmentFor(model); ok {
		req.MaxCompletionTokens = opts.MaxTokens * adj.Multiplier
	} else {
		req.Temperature = opts.Temperature
		req.MaxTokens = opts.MaxTokens
	}
	return req
}

func (c *Client) doChat(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, core.TokenUsage, error) {
	opts = c.ApplyDefaults(opts)
	model := c.ModelFor(opts)
	reqBody := c.buildRequest(model, prompt, opts)

	var content string
	var usage core.TokenUsage

	err := c.CallWithResilience(ctx, resilience.DefaultRetryConfig(), func() error {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("openai returned no choices")
		}
		content = parsed.Choices[0].Message.Content
		usage = core.TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			Model:        parsed.Model,
			Provider:     "openai",
		}
		return nil
	})

	return content, llm.FillUsageEstimate(&usage, prompt, content), err
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	content, _, err := c.doChat(ctx, prompt, opts)
	return content, err
}

func (c *Client) GenerateCompletionWithUsage(ctx context.Context, prompt string, opts llm.GenerateOptions) (core.CompletionResult, error) {
	content, usage, err := c.doChat(ctx, prompt, opts)
	if err != nil {
		return core.CompletionResult{}, err
	}
	return core.CompletionResult{Content: content, TokenUsage: &usage}, nil
}

func (c *Client) GenerateStructuredCompletion(ctx context.Context, prompt string, schema llm.ResponseSchema, opts llm.GenerateOptions) (map[string]interface{}, error) {
	result, err := c.GenerateStructuredCompletionWithUsage(ctx, prompt, schema, opts)
	if err != nil {
		return nil, err
	}
	return result.Structured, nil
}

func (c *Client) GenerateStructuredCompletionWithUsage(ctx context.Context, prompt string, schema llm.ResponseSchema, opts llm.GenerateOptions) (core.CompletionResult, error) {
	augmented := prompt + "\n\nRespond with JSON matching this schema:\n" + schemaToHint(schema)
	content, usage, err := c.doChat(ctx, augmented, opts)
	if err != nil {
		return core.CompletionResult{}, err
	}

	structured, wasEmpty, err := llm.ParseStructured("openai", content)
	if err != nil {
		return core.CompletionResult{}, err
	}
	if wasEmpty && c.Logger != nil {
		c.Logger.Warn("openai returned an empty structured response", map[string]interface{}{"model": usage.Model})
	}

	return core.CompletionResult{Content: content, Structured: structured, TokenUsage: &usage}, nil
}

func schemaToHint(schema llm.ResponseSchema) string {
	data, err := json.Marshal(schema)
	if err != nil {
		return "{}"
	}
	return string(data)
}
