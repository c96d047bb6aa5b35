package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Minute
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 64 << 20
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/saiten/data/objects.db"
	}
	if cfg.Storage.BadgerPath == "" {
		cfg.Storage.BadgerPath = "/usr/local/var/saiten/data/badger"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/saiten/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "ollama":
			cfg.Embedding.Model = "nomic-embed-text"
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaultDimensions(cfg.Embedding.Provider, cfg.Embedding.Model)
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1200
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 240
	}

	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 5
	}
	if cfg.Retrieval.DistanceThreshold == nil {
		cfg.Retrieval.DistanceThreshold = float64Ptr(1.0)
	}
	if cfg.Retrieval.MaxTotalLength == 0 {
		cfg.Retrieval.MaxTotalLength = 6000
	}
	if cfg.Retrieval.MinContextBytes == 0 {
		cfg.Retrieval.MinContextBytes = 1000
	}

	if cfg.Grading.K == 0 {
		cfg.Grading.K = 10
	}
	if cfg.Grading.DistanceThreshold == nil {
		cfg.Grading.DistanceThreshold = float64Ptr(0.5)
	}
	if cfg.Grading.MaxTotalLength == 0 {
		cfg.Grading.MaxTotalLength = 6000
	}
	if cfg.Grading.DefaultConcurrency == 0 {
		cfg.Grading.DefaultConcurrency = 4
	}
	if cfg.Grading.MaxConcurrency == 0 {
		cfg.Grading.MaxConcurrency = 16
	}

	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "ollama"
	}
	if cfg.Oracle.Model == "" {
		switch cfg.Oracle.Provider {
		case "openai":
			cfg.Oracle.Model = "gpt-4o-mini"
		default:
			cfg.Oracle.Model = "llama3.1:8b"
		}
	}
	if cfg.Oracle.MaxTokens == 0 {
		cfg.Oracle.MaxTokens = 2048
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = 2 * time.Minute
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".docx", ".pptx", ".txt", ".md"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// ollamaDimensions lists output sizes of common Ollama embedding models.
var ollamaDimensions = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// defaultDimensions returns the embedding size to assume when none is configured. OpenAI
// and unknown Ollama models get 0: the embedder uses the model's native size.
func defaultDimensions(provider, model string) int {
	switch provider {
	case "openai":
		return 0
	case "ollama":
		return ollamaDimensions[strings.TrimSuffix(model, ":latest")]
	default:
		return 384
	}
}

func float64Ptr(v float64) *float64 { return &v }
