package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/hyperjump/saiten/internal/errs"
)

// Ollama calls /api/generate with JSON output forced and streaming disabled.
type Ollama struct {
	client *api.Client
	opts   Options
}

// NewOllama creates an Ollama oracle. An empty host uses OLLAMA_HOST (or the Ollama default).
func NewOllama(host string, opts Options) (*Ollama, error) {
	opts = opts.withDefaults()
	if opts.Model == "" {
		return nil, fmt.Errorf("ollama oracle model is required")
	}
	var client *api.Client
	if host == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client from environment: %w", err)
		}
		client = c
	} else {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host: %w", err)
		}
		client = api.NewClient(u, &http.Client{Timeout: opts.Timeout})
	}
	return &Ollama{client: client, opts: opts}, nil
}

// Score sends one non-streaming generate request and returns the concatenated response.
func (o *Ollama) Score(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	stream := false
	gen := &api.GenerateRequest{
		Model:  o.opts.Model,
		Prompt: req.Prompt,
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": req.Temperature,
			"top_p":       req.TopP,
			"num_predict": req.MaxTokens,
		},
	}
	var b strings.Builder
	err := o.client.Generate(ctx, gen, func(resp api.GenerateResponse) error {
		b.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", errs.Upstream(err, "ollama generate")
	}
	return b.String(), nil
}
