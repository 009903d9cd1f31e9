// Package llm provides the model clients used for rule extraction.
package llm

import "context"

// Client defines the interface for LLM completions.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// GenerateResponse generates a chat completion for the given prompt.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float32) (string, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
