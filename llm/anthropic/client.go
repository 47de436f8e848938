// Package anthropic adapts Anthropic's Messages API to llm.Provider,
// grounded on the teacher's ai/providers/anthropic/client.go.
package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

var hardCodedModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
	"claude-3-haiku-20240307",
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
	base := llm.NewBaseClient("anthropic", 60*time.Second, logger, breaker)
	base.DefaultModel = "claude-3-5-sonnet-20241022"
	base.DefaultMaxTokens = 1000
	return &Client{BaseClient: base, apiKey: apiKey, baseURL: baseURL}
}

func (c *Client) Name() string { return "anthropic" }
func (c *Client) Cleanup()     { c.HTTPClient.CloseIdleConnections() }
func (c *Client) CountTokens(text string) int { return llm.EstimateTokens(text) }
func (c *Client) FetchAvailableModels(ctx context.Context) []string { return hardCodedModels }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) doMessages(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, core.TokenUsage, error) {
	opts = c.ApplyDefaults(opts)
	model := c.ModelFor(opts)

	var content string
	var usage core.TokenUsage

	err := c.CallWithResilience(ctx, resilience.DefaultRetryConfig(), func() error {
		reqBody := messagesRequest{
			Model:       model,
			Messages:    []message{{Role: "user", Content: prompt}},
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		}
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", apiVersion)

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

		var parsed messagesResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		if len(parsed.Content) == 0 {
			return fmt.Errorf("anthropic returned no content blocks")
		}
		content = parsed.Content[0].Text
		usage = core.TokenUsage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			Model:        parsed.Model,
			Provider:     "anthropic",
		}
		return nil
	})

	return content, llm.FillUsageEstimate(&usage, prompt, content), err
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	content, _, err := c.doMessages(ctx, prompt, opts)
	return content, err
}

func (c *Client) GenerateCompletionWithUsage(ctx context.Context, prompt string, opts llm.GenerateOptions) (core.CompletionResult, error) {
	content, usage, err := c.doMessages(ctx, prompt, opts)
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
	data, _ := json.Marshal(schema)
	augmented := prompt + "\n\nRespond with JSON matching this schema:\n" + string(data)
	content, usage, err := c.doMessages(ctx, augmented, opts)
	if err != nil {
		return core.CompletionResult{}, err
	}

	structured, wasEmpty, err := llm.ParseStructured("anthropic", content)
	if err != nil {
		return core.CompletionResult{}, err
	}
	if wasEmpty && c.Logger != nil {
		c.Logger.Warn("anthropic returned an empty structured response", map[string]interface{}{"model": usage.Model})
	}

	return core.CompletionResult{Content: content, Structured: structured, TokenUsage: &usage}, nil
}
