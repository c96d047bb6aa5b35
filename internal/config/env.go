package config

import (
	"os"
	"strconv"
)

// ApplyEnv overlays environment variables on cfg. SAITEN_* variables always win;
// OLLAMA_HOST and OPENAI_API_KEY only fill settings left empty by the file.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("SAITEN_DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv("SAITEN_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SAITEN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("SAITEN_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SAITEN_DATABASE_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("SAITEN_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("SAITEN_ORACLE_PROVIDER"); v != "" {
		cfg.Oracle.Provider = v
	}
	if v := os.Getenv("SAITEN_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("SAITEN_INBOX"); v != "" {
		cfg.Watch.Inbox = v
	}

	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if cfg.Oracle.Provider == "ollama" && cfg.Oracle.BaseURL == "" {
			cfg.Oracle.BaseURL = host
		}
		if cfg.Embedding.Provider == "ollama" && cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = host
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Oracle.Provider == "openai" && cfg.Oracle.APIKey == "" {
			cfg.Oracle.APIKey = key
		}
		if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
	}
}
