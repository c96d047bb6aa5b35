package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"what is photosynthesis", "-k", "3"},
			expected: []string{"-k", "3", "what is photosynthesis"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-k", "3", "what is photosynthesis"},
			expected: []string{"-k", "3", "what is photosynthesis"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"what is photosynthesis"},
			expected: []string{"what is photosynthesis"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"cell", "division", "-owner", "prof"},
			expected: []string{"-owner", "prof", "cell", "division"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"mitosis"}, "mitosis"},
		{"multiple words", []string{"cell", "division"}, "cell division"},
		{"single quoted phrase", []string{"cell division"}, "cell division"},
		{"surrounding space", []string{"  cell ", " division  "}, "cell   division"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuery(tt.args); got != tt.expected {
				t.Errorf("buildQuery(%q) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestGradedPath(t *testing.T) {
	tests := map[string]string{
		"essays.xlsx":       "essays_graded.xlsx",
		"/tmp/batch.1.xlsx": "/tmp/batch.1_graded.xlsx",
		"no-extension":      "no-extension_graded.xlsx",
	}
	for in, want := range tests {
		if got := gradedPath(in); got != want {
			t.Errorf("gradedPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadCriteria(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "rubric.yaml")
	content := `
clarity: "Rate clarity of {{essay}} for {{question}}. Context: {{rag_context}}"
accuracy: |
  Rate accuracy of {{essay}}.
`
	if err := os.WriteFile(yamlPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	criteria, err := loadCriteria(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(criteria) != 2 || criteria["accuracy"] != "Rate accuracy of {{essay}}.\n" {
		t.Errorf("criteria = %q", criteria)
	}

	jsonPath := filepath.Join(dir, "rubric.json")
	if err := os.WriteFile(jsonPath, []byte(`{"style": "Rate style of {essay}"}`), 0600); err != nil {
		t.Fatal(err)
	}
	criteria, err = loadCriteria(jsonPath)
	if err != nil || criteria["style"] != "Rate style of {essay}" {
		t.Errorf("json criteria = %q, %v", criteria, err)
	}

	emptyPath := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(emptyPath, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadCriteria(emptyPath); err == nil {
		t.Error("expected error for empty criteria")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./test.db"
embedding:
  provider: mock
oracle:
  provider: mock
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "test.db") {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("oracle:\n  provider: ollama\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SAITEN_PORT", "9123")
	t.Setenv("SAITEN_ORACLE_PROVIDER", "mock")
	t.Setenv("OLLAMA_HOST", "http://ollama.internal:11434")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9123 || cfg.Oracle.Provider != "mock" {
		t.Errorf("env not applied: port=%d oracle=%s", cfg.Server.Port, cfg.Oracle.Provider)
	}
	// OLLAMA_HOST only fills the oracle URL while the oracle uses ollama
	if cfg.Oracle.BaseURL != "" {
		t.Errorf("oracle base_url = %q", cfg.Oracle.BaseURL)
	}
}

func TestLoadConfig_InvalidProviderFromEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("debug: false\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SAITEN_EMBEDDING_PROVIDER", "word2vec")
	if _, _, err := loadConfig(configPath); err == nil {
		t.Error("expected validation error for unknown embedding provider")
	}
}
