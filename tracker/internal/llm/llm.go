// Package llm is the text-generation capability: ordered chat messages in,
// free text or schema-constrained JSON out, with token usage.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when the backend produced no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrTruncated is returned when generation stopped at the token limit.
var ErrTruncated = errors.New("llm: output truncated at max tokens")

// Roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema is the subset of JSON Schema both backends understand.
type Schema struct {
	Type        string             // object, string, integer, number, boolean, array
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
}

// JSON renders s as a JSON Schema document. Objects are closed
// (additionalProperties false), as strict structured output requires.
func (s *Schema) JSON() map[string]any {
	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSON()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Items != nil {
		out["items"] = s.Items.JSON()
	}
	if s.Type == "object" {
		out["additionalProperties"] = false
	}
	return out
}

// StructuredOutput asks the backend for JSON matching Schema.
type StructuredOutput struct {
	Name   string
	Schema *Schema
}

// Request is one generation call.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// Output is nil for free text.
	Output *StructuredOutput
}

// Usage is the token-usage triple reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}

// Response is the generated text and its cost.
type Response struct {
	Text  string
	Usage Usage
}

// Decode parses the response text as JSON into v, tolerating a markdown
// code fence around the document.
func (r *Response) Decode(v any) error {
	cleaned := StripCodeFence(r.Text)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("llm: decode JSON: %w", err)
	}
	return nil
}

// StripCodeFence removes a leading ```lang line and trailing ``` if present.
func StripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	if idx := strings.Index(cleaned, "\n"); idx >= 0 {
		cleaned = cleaned[idx+1:]
	}
	if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	return strings.TrimSpace(cleaned)
}

// Generator is implemented by every backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
