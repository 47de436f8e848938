// Package bedrock adapts Anthropic-on-Bedrock to llm.Provider via the
// Converse API, grounded on the teacher's ai/providers/bedrock/client.go.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/llm"
	"github.com/cogniforge/qpipeline/resilience"
)

var hardCodedModels = []string{
	"anthropic.claude-3-5-sonnet-20241022-v2:0",
	"anthropic.claude-3-5-haiku-20241022-v1:0",
	"anthropic.claude-3-sonnet-20240229-v1:0",
}

// NewAWSConfig loads the default AWS configuration chain (IAM role, env
// vars, profile), mirroring CreateAWSConfig in the teacher's bedrock
// package.
func NewAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

type Client struct {
	*llm.BaseClient
	runtime *bedrockruntime.Client
}

func NewClient(awsCfg aws.Config, logger core.Logger, breaker *resilience.CircuitBreaker) *Client {
	base := llm.NewBaseClient("bedrock", 60*time.Second, logger, breaker)
	base.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	base.DefaultMaxTokens = 1000
	return &Client{
		BaseClient: base,
		runtime:    bedrockruntime.NewFromConfig(awsCfg),
	}
}

func (c *Client) Name() string                                      { return "bedrock" }
func (c *Client) Cleanup()                                          {}
func (c *Client) CountTokens(text string) int                       { return llm.EstimateTokens(text) }
func (c *Client) FetchAvailableModels(ctx context.Context) []string  { return hardCodedModels }

func (c *Client) doConverse(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, core.TokenUsage, error) {
	opts = c.ApplyDefaults(opts)
	model := c.ModelFor(opts)

	var content string
	var usage core.TokenUsage

	err := c.CallWithResilience(ctx, resilience.DefaultRetryConfig(), func() error {
		input := &bedrockruntime.ConverseInput{
			ModelId: aws.String(model),
			Messages: []types.Message{
				{
					Role: types.ConversationRoleUser,
					Content: []types.ContentBlock{
						&types.ContentBlockMemberText{Value: prompt},
					},
				},
			},
			InferenceConfig: &types.InferenceConfiguration{
				MaxTokens:   aws.Int32(int32(opts.MaxTokens)),
				Temperature: aws.Float32(opts.Temperature),
			},
		}

		output, err := c.runtime.Converse(ctx, input)
		if err != nil {
			return fmt.Errorf("bedrock converse: %w", err)
		}
		msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
		if !ok {
			return fmt.Errorf("unexpected bedrock output type")
		}
		var text string
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*types.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
		if text == "" {
			return fmt.Errorf("bedrock returned no text content")
		}
		content = text

		usage = core.TokenUsage{Model: model, Provider: "bedrock"}
		if output.Usage != nil {
			if output.Usage.InputTokens != nil {
				usage.InputTokens = int(*output.Usage.InputTokens)
			}
			if output.Usage.OutputTokens != nil {
				usage.OutputTokens = int(*output.Usage.OutputTokens)
			}
		}
		return nil
	})

	return content, llm.FillUsageEstimate(&usage, prompt, content), err
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	content, _, err := c.doConverse(ctx, prompt, opts)
	return content, err
}

func (c *Client) GenerateCompletionWithUsage(ctx context.Context, prompt string, opts llm.GenerateOptions) (core.CompletionResult, error) {
	content, usage, err := c.doConverse(ctx, prompt, opts)
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
	content, usage, err := c.doConverse(ctx, augmented, opts)
	if err != nil {
		return core.CompletionResult{}, err
	}

	structured, wasEmpty, err := llm.ParseStructured("bedrock", content)
	if err != nil {
		return core.CompletionResult{}, err
	}
	if wasEmpty && c.Logger != nil {
		c.Logger.Warn("bedrock returned an empty structured response", map[string]interface{}{"model": usage.Model})
	}

	return core.CompletionResult{Content: content, Structured: structured, TokenUsage: &usage}, nil
}
