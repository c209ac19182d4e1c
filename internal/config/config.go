package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration when --config is not given.
const DefaultPath = "tenderpipe.yaml"

// Config holds all tenderpipe configuration.
type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Reranker    RerankerConfig    `yaml:"reranker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Paths       PathsConfig       `yaml:"paths"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LLMConfig configures the language-model backend.
type LLMConfig struct {
	Provider        string  `yaml:"provider"` // ollama, openai, gemini, mock
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	Temperature     float64 `yaml:"temperature"`
	ContextWindow   int     `yaml:"context_window"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Timeout         string  `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine used by vector collections.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // ollama, genai, hashing
	Model      string `yaml:"model"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	TaskType   string `yaml:"task_type"`
	Dimensions int    `yaml:"dimensions"`
}

// RerankerConfig configures candidate reranking.
type RerankerConfig struct {
	Scorer   string `yaml:"scorer"` // lexical, embedding, http
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	TopN     int    `yaml:"top_n"`
}

// VectorStoreConfig locates the default vector collection database.
type VectorStoreConfig struct {
	Path              string `yaml:"path"`
	DefaultCollection string `yaml:"default_collection"`
}

// PathsConfig holds working directories.
type PathsConfig struct {
	Prompts string `yaml:"prompts"`
	Outputs string `yaml:"outputs"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level              string   `yaml:"level"`  // debug, info, warn, error
	Format             string   `yaml:"format"` // json, text
	DisabledCategories []string `yaml:"disabled_categories"`
}

// DefaultConfig returns the default configuration. It points at a local
// Ollama server and keeps everything else offline.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:        "ollama",
			Model:           "qwen2.5-coder:7b-instruct",
			BaseURL:         "http://localhost:11434",
			Temperature:     0.1,
			ContextWindow:   32768,
			MaxOutputTokens: 4096,
			Timeout:         "120s",
		},
		Embedding: EmbeddingConfig{
			Provider:   "hashing",
			Model:      "nomic-embed-text",
			Endpoint:   "http://localhost:11434",
			Dimensions: 384,
		},
		Reranker: RerankerConfig{
			Scorer: "lexical",
			TopN:   3,
		},
		VectorStore: VectorStoreConfig{
			Path:              filepath.Join("data", "vectors.db"),
			DefaultCollection: "meters_semantic",
		},
		Paths: PathsConfig{
			Prompts: "prompts",
			Outputs: "outputs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults plus environment when there is no file.
		data = nil
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.Provider == "gemini" || c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
		if c.Embedding.Provider == "genai" && c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if p := os.Getenv("TENDERPIPE_LLM_PROVIDER"); p != "" {
		c.LLM.Provider = strings.ToLower(p)
	}
	if m := os.Getenv("TENDERPIPE_LLM_MODEL"); m != "" {
		c.LLM.Model = m
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if !strings.HasPrefix(host, "http") {
			host = "http://" + host
		}
		if c.LLM.Provider == "ollama" {
			c.LLM.BaseURL = host
		}
		if c.Embedding.Provider == "ollama" {
			c.Embedding.Endpoint = host
		}
	}
	if m := os.Getenv("TENDERPIPE_EMBEDDING_MODEL"); m != "" {
		c.Embedding.Model = m
	}
	if p := os.Getenv("TENDERPIPE_VECTOR_DB"); p != "" {
		c.VectorStore.Path = p
	}
	if d := os.Getenv("TENDERPIPE_OUTPUT_DIR"); d != "" {
		c.Paths.Outputs = d
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"ollama", "openai", "gemini", "mock"}

// ValidEmbeddingProviders lists all supported embedding providers.
var ValidEmbeddingProviders = []string{"ollama", "genai", "hashing"}

// ValidScorers lists all supported rerank scorers.
var ValidScorers = []string{"lexical", "embedding", "http"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if (c.LLM.Provider == "openai" || c.LLM.Provider == "gemini") && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured for %s (set OPENAI_API_KEY or GEMINI_API_KEY)", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2], got %v", c.LLM.Temperature)
	}
	if c.LLM.ContextWindow < 0 || c.LLM.MaxOutputTokens < 0 {
		return fmt.Errorf("llm token limits must not be negative")
	}
	if !contains(ValidEmbeddingProviders, c.Embedding.Provider) {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}
	if !contains(ValidScorers, c.Reranker.Scorer) {
		return fmt.Errorf("invalid reranker scorer: %s (valid: %v)", c.Reranker.Scorer, ValidScorers)
	}
	if c.Reranker.Scorer == "http" && c.Reranker.Endpoint == "" {
		return fmt.Errorf("reranker.endpoint is required for the http scorer")
	}
	if c.Reranker.TopN <= 0 {
		return fmt.Errorf("reranker.top_n must be positive, got %d", c.Reranker.TopN)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
