package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the ledgerlens API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Cache     CacheConfig     `yaml:"cache"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Matching  MatchingConfig  `yaml:"matching"`
	Extract   ExtractConfig   `yaml:"extract"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StorageConfig holds batch index storage settings.
type StorageConfig struct {
	Root      string `yaml:"root"`
	BatchSize int    `yaml:"batch_size"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ScoringConfig holds LLM match-scoring provider settings.
type ScoringConfig struct {
	Provider       string `yaml:"provider"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	RerankModel    string `yaml:"rerank_model"`
	BreakerEnabled bool   `yaml:"breaker_enabled"`
}

// CacheConfig holds the optional embedding cache settings.
type CacheConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
}

// RetrievalConfig holds the hybrid retrieval knobs.
type RetrievalConfig struct {
	TopKPerBatch int     `yaml:"top_k_per_batch"`
	GlobalTopK   int     `yaml:"global_top_k"`
	Rerank       bool    `yaml:"rerank"`
	Threshold    float64 `yaml:"threshold"` // rerank-score scale
}

// MatchingConfig holds the rule-filter and LLM-scoring knobs.
type MatchingConfig struct {
	DateWindowDays int     `yaml:"date_window_days"`
	MinMatchScore  float64 `yaml:"min_match_score"`
	LLMThreshold   int     `yaml:"llm_threshold"` // 0-100 scale
	MaxLLMItems    int     `yaml:"max_llm_items"`
	Workers        int     `yaml:"workers"`
}

// ExtractConfig holds fragment extraction settings.
type ExtractConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	Workers      int `yaml:"workers"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "storage"
	}
	if c.Storage.BatchSize <= 0 {
		c.Storage.BatchSize = 200
	}
	if c.Retrieval.TopKPerBatch <= 0 {
		c.Retrieval.TopKPerBatch = 20
	}
	if c.Retrieval.GlobalTopK <= 0 {
		c.Retrieval.GlobalTopK = 3
	}
	if c.Retrieval.Threshold <= 0 {
		c.Retrieval.Threshold = 0.5
	}
	if c.Matching.DateWindowDays <= 0 {
		c.Matching.DateWindowDays = 3
	}
	if c.Matching.MinMatchScore <= 0 {
		c.Matching.MinMatchScore = 2
	}
	if c.Matching.LLMThreshold <= 0 {
		c.Matching.LLMThreshold = 60
	}
	if c.Matching.MaxLLMItems <= 0 {
		c.Matching.MaxLLMItems = 10
	}
	if c.Matching.Workers <= 0 {
		c.Matching.Workers = 1
	}
	if c.Extract.ChunkSize <= 0 {
		c.Extract.ChunkSize = 1000
	}
	if c.Extract.ChunkOverlap < 0 || c.Extract.ChunkOverlap >= c.Extract.ChunkSize {
		c.Extract.ChunkOverlap = 200
	}
	if c.Extract.Workers <= 0 {
		c.Extract.Workers = 4
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Scoring.Model == "" {
		return fmt.Errorf("scoring.model is required")
	}
	if c.Cache.Enabled && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required when cache is enabled")
	}
	if c.Retrieval.GlobalTopK > c.Retrieval.TopKPerBatch {
		return fmt.Errorf(
			"retrieval.global_top_k (%d) must not exceed retrieval.top_k_per_batch (%d)",
			c.Retrieval.GlobalTopK, c.Retrieval.TopKPerBatch,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
