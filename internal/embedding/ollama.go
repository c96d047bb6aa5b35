package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/ollama/ollama/api"
)

// OllamaEmbedder calls the /api/embed endpoint of an Ollama server.
type OllamaEmbedder struct {
	client     *api.Client
	model      string
	dimensions atomic.Int64
}

// NewOllamaEmbedder creates an embedder for model. An empty host uses OLLAMA_HOST
// (or the Ollama default). dimensions must match the model's output size; 0 takes the
// size of the first response.
func NewOllamaEmbedder(host, model string, dimensions int, httpClient *http.Client) (*OllamaEmbedder, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embedding model is required")
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
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		client = api.NewClient(u, httpClient)
	}
	e := &OllamaEmbedder{client: client, model: model}
	if dimensions > 0 {
		e.dimensions.Store(int64(dimensions))
	}
	return e, nil
}

// Embed embeds a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends all texts in one request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	for _, v := range resp.Embeddings {
		NormalizeL2Slice(v)
	}
	if len(resp.Embeddings[0]) > 0 {
		e.dimensions.CompareAndSwap(0, int64(len(resp.Embeddings[0])))
	}
	return resp.Embeddings, nil
}

// Dimensions returns the configured or learned embedding dimension (0 before the first
// response when none was configured).
func (e *OllamaEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

// Close is a no-op; the HTTP client is shared.
func (e *OllamaEmbedder) Close() error {
	return nil
}
