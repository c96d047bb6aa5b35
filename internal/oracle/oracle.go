// Package oracle sends grading prompts to an LLM and returns its raw text answer.
package oracle

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 2048
	DefaultTimeout     = 2 * time.Minute
)

// Request is one scoring call.
type Request struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// Oracle scores one prompt. Implementations make a single attempt; callers decide how to
// degrade on failure.
type Oracle interface {
	Score(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (string, error)

// Score calls f.
func (f Func) Score(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Options holds the sampling parameters and call timeout shared by the providers.
type Options struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Request builds a request for prompt with these sampling options.
func (o Options) Request(prompt string) Request {
	o = o.withDefaults()
	return Request{Prompt: prompt, Temperature: o.Temperature, TopP: o.TopP, MaxTokens: o.MaxTokens}
}

// New creates the oracle for provider ("ollama", "openai" or "mock").
func New(provider, baseURL, apiKey string, opts Options) (Oracle, error) {
	switch provider {
	case "ollama", "":
		return NewOllama(baseURL, opts)
	case "openai":
		return NewOpenAI(apiKey, baseURL, opts)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider: %s (supported: ollama, openai, mock)", provider)
	}
}
