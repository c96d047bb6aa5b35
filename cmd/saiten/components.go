package main

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/embedding"
	"github.com/hyperjump/saiten/internal/grading"
	"github.com/hyperjump/saiten/internal/indexer"
	"github.com/hyperjump/saiten/internal/metrics"
	"github.com/hyperjump/saiten/internal/oracle"
	"github.com/hyperjump/saiten/internal/retrieval"
	"github.com/hyperjump/saiten/internal/storage"
	"github.com/hyperjump/saiten/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Objects   storage.ObjectStore
	Corpora   *corpus.Store
	Embedder  embedding.Embedder
	Indexer   *indexer.Indexer
	Retrieval *retrieval.Engine
	Oracle    oracle.Oracle
	Grader    *grading.Orchestrator
	Metrics   *metrics.Metrics
}

func (c *Components) Close() {
	if c.Objects != nil {
		_ = c.Objects.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	objects, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DatabasePath, cfg.Storage.BadgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Objects: objects, Corpora: corpus.NewStore(objects, logger)}
	if cfg.Metrics.EnabledOrDefault() {
		c.Metrics = metrics.New()
	}

	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	batcher := embedding.NewBatcher(c.Embedder, cfg.Embedding.BatchSize, logger)

	builder := vector.NewBuilder(buildParams(cfg.Index), vector.WithBuilderLogger(logger))
	chunker := indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	c.Indexer = indexer.NewIndexer(chunker, batcher, builder, c.Corpora,
		indexer.WithLogger(logger), indexer.WithMetrics(c.Metrics))

	c.Retrieval = retrieval.NewEngine(c.Corpora, batcher, retrieval.Options{
		DefaultK:          cfg.Retrieval.DefaultK,
		DistanceThreshold: cfg.Retrieval.DistanceThreshold,
		MaxTotalLength:    cfg.Retrieval.MaxTotalLength,
		MinContextBytes:   cfg.Retrieval.MinContextBytes,
		Expansions:        cfg.Retrieval.Expansions,
	}, retrieval.WithLogger(logger), retrieval.WithMetrics(c.Metrics))

	oracleOpts := oracle.Options{
		Model:       cfg.Oracle.Model,
		Temperature: cfg.Oracle.TemperatureOrDefault(),
		TopP:        cfg.Oracle.TopPOrDefault(),
		MaxTokens:   cfg.Oracle.MaxTokens,
		Timeout:     cfg.Oracle.Timeout,
	}
	c.Oracle, err = oracle.New(cfg.Oracle.Provider, cfg.Oracle.BaseURL, cfg.Oracle.APIKey, oracleOpts)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize oracle: %w", err)
	}
	logger.Info("oracle initialized", zap.String("provider", cfg.Oracle.Provider), zap.String("model", cfg.Oracle.Model))

	c.Grader = grading.NewOrchestrator(c.Retrieval, c.Oracle, grading.Options{
		K:                  cfg.Grading.K,
		DistanceThreshold:  cfg.Grading.DistanceThreshold,
		MaxTotalLength:     cfg.Grading.MaxTotalLength,
		DefaultConcurrency: cfg.Grading.DefaultConcurrency,
		MaxConcurrency:     cfg.Grading.MaxConcurrency,
		Oracle:             oracleOpts,
	}, grading.WithLogger(logger), grading.WithMetrics(c.Metrics), grading.WithTracker(grading.NewTracker(0)))

	return c, nil
}

// newEmbedder creates the configured embedder. An unavailable ONNX model falls back to the
// mock embedder so the CLI stays usable without model files.
func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "onnx":
		e, err := embedding.NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("onnx embedder unavailable, falling back to mock",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			return embedding.NewMockEmbedder(cfg.Dimensions), nil
		}
		return e, nil
	case "ollama":
		e, err := embedding.NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions, http.DefaultClient)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		return e, nil
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		return e, nil
	case "mock":
		return embedding.NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

func buildParams(cfg config.IndexConfig) vector.BuildParams {
	return vector.BuildParams{
		NList:                cfg.NList,
		NListMax:             cfg.NListMax,
		MinPointsPerCentroid: cfg.MinPointsPerCentroid,
		MaxBits:              cfg.MaxBits,
		MinBits:              cfg.MinBits,
		DimsPerSubQuantizer:  cfg.DimsPerSubQuantizer,
		MinSubQuantizers:     cfg.MinSubQuantizers,
		MaxSubQuantizers:     cfg.MaxSubQuantizers,
		TrainIterations:      cfg.TrainIterations,
		NVisit:               cfg.NVisit,
		Seed:                 cfg.Seed,
	}
}
