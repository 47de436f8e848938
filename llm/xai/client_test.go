package xai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cogniforge/qpipeline/llm"
	"github.com/cogniforge/qpipeline/resilience"
)

var _ llm.Provider = (*Client)(nil)

func TestGenerateCompletionReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{
			Model: "grok-2",
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Content: "grok says hi"}}},
		})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, nil, resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("xai")))
	got, err := c.GenerateCompletion(context.Background(), "hi", llm.GenerateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "grok says hi" {
		t.Fatalf("got %q", got)
	}
}
