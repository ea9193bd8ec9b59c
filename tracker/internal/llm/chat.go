package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/docwatch/connectivity"
)

// ChatConfig configures an OpenAI-compatible chat completions backend.
type ChatConfig struct {
	// Endpoint is the API base, e.g. https://api.openai.com/v1 or, with
	// Azure set, https://<resource>.openai.azure.com.
	Endpoint string
	APIKey   string
	// Model is the model name, or the deployment name on Azure.
	Model string
	// Azure switches to deployment URLs, api-version and the api-key header.
	Azure      bool
	APIVersion string
	Timeout    time.Duration
	Retry      connectivity.RetryPolicy
}

func (c *ChatConfig) defaults() {
	if c.Endpoint == "" && !c.Azure {
		c.Endpoint = "https://api.openai.com/v1"
	}
	if c.APIVersion == "" {
		c.APIVersion = "2024-08-01-preview"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 2
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = 5 * time.Second
	}
}

// ChatGenerator talks to /chat/completions.
type ChatGenerator struct {
	call  connectivity.Handler
	model string
}

// NewChatGenerator creates a chat completions backend. client may be nil.
func NewChatGenerator(cfg ChatConfig, client *http.Client, logger *slog.Logger) (*ChatGenerator, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("llm: chat endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: chat model is required")
	}

	header := http.Header{}
	var endpoint string
	if cfg.Azure {
		header.Set("api-key", cfg.APIKey)
		endpoint = strings.TrimRight(cfg.Endpoint, "/") + "/openai/deployments/" +
			url.PathEscape(cfg.Model) + "/chat/completions?api-version=" + url.QueryEscape(cfg.APIVersion)
	} else {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
		endpoint = strings.TrimRight(cfg.Endpoint, "/") + "/chat/completions"
	}

	call := connectivity.Chain(
		connectivity.Logging(logger, "llm"),
		connectivity.WithRetry(cfg.Retry, logger),
		connectivity.WithTimeout(cfg.Timeout),
	)(connectivity.HTTPPostJSON(client, endpoint, header))

	return &ChatGenerator{call: call, model: cfg.Model}, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Generate sends req and returns the first choice.
func (g *ChatGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	body := chatRequest{
		Model:       g.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Output != nil {
		body.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaSpec{
				Name:   req.Output.Name,
				Schema: req.Output.Schema.JSON(),
				Strict: true,
			},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	raw, err := g.call(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	out := &Response{Text: choice.Message.Content, Usage: resp.Usage}
	if choice.FinishReason == "length" {
		return out, ErrTruncated
	}
	if strings.TrimSpace(out.Text) == "" {
		return out, ErrEmptyResponse
	}
	return out, nil
}
