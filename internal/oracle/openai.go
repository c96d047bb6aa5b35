package oracle

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/saiten/internal/errs"
)

const systemPrompt = "You grade student essays. Respond with a single JSON object with the keys \"score\" and \"feedback\"."

// OpenAI uses the chat completions API in JSON-object mode.
type OpenAI struct {
	client *openai.Client
	opts   Options
}

// NewOpenAI creates an OpenAI oracle. baseURL may point at any OpenAI-compatible server.
func NewOpenAI(apiKey, baseURL string, opts Options) (*OpenAI, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	opts = opts.withDefaults()
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), opts: opts}, nil
}

// Score sends the prompt as a single user message.
func (o *OpenAI) Score(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		MaxTokens:   req.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", errs.Upstream(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errs.Upstream(nil, "openai chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
