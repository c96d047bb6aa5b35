// Package config provides configuration loading and structs for the saiten server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Grading   GradingConfig   `yaml:"grading"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// StorageConfig selects the object store holding corpus blobs.
type StorageConfig struct {
	Backend      string `yaml:"backend"` // "sqlite" or "badger"
	DatabasePath string `yaml:"database_path"`
	BadgerPath   string `yaml:"badger_path"`
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "onnx", "ollama", "openai" or "mock"
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
}

// IndexConfig holds index builder parameters. Zero values take builder defaults.
type IndexConfig struct {
	NList                int    `yaml:"nlist"`
	NListMax             int    `yaml:"nlist_max"`
	MinPointsPerCentroid int    `yaml:"min_points_per_centroid"`
	MaxBits              int    `yaml:"max_bits"`
	MinBits              int    `yaml:"min_bits"`
	DimsPerSubQuantizer  int    `yaml:"dims_per_sub_quantizer"`
	MinSubQuantizers     int    `yaml:"min_sub_quantizers"`
	MaxSubQuantizers     int    `yaml:"max_sub_quantizers"`
	TrainIterations      int    `yaml:"train_iterations"`
	NVisit               int    `yaml:"nvisit"`
	Seed                 uint64 `yaml:"seed"`
}

// ChunkingConfig holds passage window sizes in bytes.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig holds retrieval defaults and the query expansion table. An unset
// distance_threshold takes the default; 0 accepts only exact matches.
type RetrievalConfig struct {
	DefaultK          int                 `yaml:"default_k"`
	DistanceThreshold *float64            `yaml:"distance_threshold"`
	MaxTotalLength    int                 `yaml:"max_total_length"`
	MinContextBytes   int                 `yaml:"min_context_bytes"`
	Expansions        map[string][]string `yaml:"expansions"`
}

// GradingConfig holds the retrieval constants used for grading and the worker pool bounds.
type GradingConfig struct {
	K                  int      `yaml:"k"`
	DistanceThreshold  *float64 `yaml:"distance_threshold"`
	MaxTotalLength     int      `yaml:"max_total_length"`
	DefaultConcurrency int      `yaml:"default_concurrency"`
	MaxConcurrency     int      `yaml:"max_concurrency"`
}

// OracleConfig configures the scoring LLM.
type OracleConfig struct {
	Provider    string        `yaml:"provider"` // "ollama", "openai" or "mock"
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature *float64      `yaml:"temperature"`
	TopP        *float64      `yaml:"top_p"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TemperatureOrDefault returns the sampling temperature; defaults to 0.7 when unset.
func (o *OracleConfig) TemperatureOrDefault() float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return 0.7
}

// TopPOrDefault returns nucleus sampling p; defaults to 0.9 when unset.
func (o *OracleConfig) TopPOrDefault() float64 {
	if o.TopP != nil {
		return *o.TopP
	}
	return 0.9
}

// WatchConfig holds the ingestion inbox settings. An empty Inbox disables watching.
type WatchConfig struct {
	Inbox      string        `yaml:"inbox"`
	Extensions []string      `yaml:"extensions"`
	Debounce   time.Duration `yaml:"debounce"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EnabledOrDefault returns whether /metrics is served; defaults to true when unset.
func (m *MetricsConfig) EnabledOrDefault() bool {
	if m.Enabled != nil {
		return *m.Enabled
	}
	return true
}

// Default returns a config with every default applied and no file behind it.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BadgerPath = expandPath(cfg.Storage.BadgerPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Watch.Inbox != "" {
		cfg.Watch.Inbox = expandPath(cfg.Watch.Inbox, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports settings that cannot be satisfied.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("unknown storage backend: %s (supported: sqlite, badger)", c.Storage.Backend)
	}
	switch c.Embedding.Provider {
	case "onnx", "ollama", "openai", "mock":
	default:
		return fmt.Errorf("unknown embedding provider: %s (supported: onnx, ollama, openai, mock)", c.Embedding.Provider)
	}
	switch c.Oracle.Provider {
	case "ollama", "openai", "mock":
	default:
		return fmt.Errorf("unknown oracle provider: %s (supported: ollama, openai, mock)", c.Oracle.Provider)
	}
	if t := c.Retrieval.DistanceThreshold; t != nil && *t < 0 {
		return fmt.Errorf("retrieval.distance_threshold must not be negative")
	}
	if t := c.Grading.DistanceThreshold; t != nil && *t < 0 {
		return fmt.Errorf("grading.distance_threshold must not be negative")
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive")
	}
	if c.Grading.MaxConcurrency < 1 {
		return fmt.Errorf("grading.max_concurrency must be at least 1")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
