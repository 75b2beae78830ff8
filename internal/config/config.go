// Package config loads and validates ragdex configuration.
//
// Precedence, lowest to highest:
//  1. built-in defaults
//  2. YAML config file (ragdex.yaml)
//  3. RAGDEX_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ragdex configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// FastMode forces the lexical (TF-IDF) embedder even when a dense
	// model is reachable. Mirrors RAGDEX_FAST.
	FastMode bool `yaml:"fast_mode" json:"fast_mode"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// Model is the dense embedding model to use.
	Model string `yaml:"model" json:"model"`

	// BatchSize for batch embedding requests (default: 32).
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Timeout for embedding API requests.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// CacheSize is the query-embedding LRU cache capacity (0 disables).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	// Backend selects the vector backend for dense mode: "flat" (exact,
	// default) or "cosine" (approximate). Sparse mode always uses cosine.
	Backend string `yaml:"backend" json:"backend"`

	// MaxK caps the number of results a single query may request.
	MaxK int `yaml:"max_k" json:"max_k"`
}

// ChunkingConfig configures document chunking for uploads.
type ChunkingConfig struct {
	// Size is the chunk size in words (default: 500).
	Size int `yaml:"size" json:"size"`
	// Overlap is the number of words shared between adjacent chunks.
	Overlap int `yaml:"overlap" json:"overlap"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: ".ragdex",
		Embeddings: EmbeddingsConfig{
			OllamaHost: "http://localhost:11434",
			Model:      "nomic-embed-text",
			BatchSize:  32,
			Timeout:    60 * time.Second,
			CacheSize:  256,
		},
		Index: IndexConfig{
			Backend: "flat",
			MaxK:    6,
		},
		Chunking: ChunkingConfig{
			Size:    500,
			Overlap: 50,
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8080,
			LogLevel: "info",
		},
	}
}

// Load reads configuration from path, applying defaults and env overrides.
// A missing file is not an error; defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfig returns the first ragdex.yaml found walking up from dir,
// or the default path in dir when none exists.
func FindConfig(dir string) string {
	for {
		candidate := filepath.Join(dir, "ragdex.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "ragdex.yaml"
}

// applyEnvOverrides applies RAGDEX_* environment variables.
// Env vars take precedence over file settings.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGDEX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RAGDEX_FAST"); v != "" {
		c.Embeddings.FastMode = isTruthy(v)
	}
	if v := os.Getenv("RAGDEX_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("RAGDEX_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RAGDEX_BACKEND"); v != "" {
		c.Index.Backend = v
	}
	if v := os.Getenv("RAGDEX_MAX_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.MaxK = n
		}
	}
	if v := os.Getenv("RAGDEX_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case "flat", "cosine":
	default:
		return fmt.Errorf("invalid index backend %q (want flat or cosine)", c.Index.Backend)
	}
	if c.Index.MaxK <= 0 {
		return fmt.Errorf("index.max_k must be positive, got %d", c.Index.MaxK)
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// isTruthy interprets common boolean environment values.
func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
