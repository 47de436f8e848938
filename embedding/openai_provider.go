package embedding

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

const defaultEmbeddingTimeout = 30 * time.Second

// OpenAIProvider implements Provider against OpenAI's /v1/embeddings
// endpoint, grounded on the embedders.OpenAIEmbedder shape from the rest of
// the retrieved pack, adapted to this module's BaseClient/circuit-breaker
// wiring instead of a bare http.Client.
type OpenAIProvider struct {
	base    *llm.BaseClient
	model   string
	apiKey  string
	baseURL string
}

func NewOpenAIProvider(apiKey, baseURL, model string, logger core.Logger, breaker *resilience.CircuitBreaker) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	base := llm.NewBaseClient("openai-embeddings", defaultEmbeddingTimeout, logger, breaker)
	base.DefaultModel = model
	return &OpenAIProvider{base: base, model: model, apiKey: apiKey, baseURL: baseURL}
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) (Vector, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	var vectors []Vector
	err := p.base.CallWithResilience(ctx, resilience.DefaultRetryConfig(), func() error {
		v, callErr := p.call(ctx, texts)
		if callErr != nil {
			return callErr
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (p *OpenAIProvider) call(ctx context.Context, texts []string) ([]Vector, error) {
	reqBody, err := json.Marshal(openAIEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.base.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.base.HandleError(resp.StatusCode, body)
	}

	var parsed openAIEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: parse response: %w", err)
	}

	out := make([]Vector, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
