package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/step6836/CloudRAG/internal/domain"
)

// Config holds all configuration for CloudRAG.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DataConfig locates the document database and the vector index.
// Relative paths are resolved against the project directory.
type DataConfig struct {
	Dir         string `yaml:"dir"`
	Database    string `yaml:"database"`
	Index       string `yaml:"index"`
	Transcripts string `yaml:"transcripts"`
}

// IngestConfig selects transcript files for `cloudrag ingest`.
type IngestConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// ChunkingConfig holds the character window settings.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`    // "openai", "mock"
	Model             string  `yaml:"model"`       // e.g., "text-embedding-3-small"
	BaseURL           string  `yaml:"base_url"`    // OpenAI-compatible endpoint
	APIKeyEnv         string  `yaml:"api_key_env"` // Environment variable for API key
	Dimension         int     `yaml:"dimension"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unlimited
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

// CompletionConfig holds answer generation configuration.
type CompletionConfig struct {
	Provider       string  `yaml:"provider"` // "openai", "mock"
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"` // 0 = provider default
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK            int `yaml:"top_k"`
	OverfetchFactor int `yaml:"overfetch_factor"` // candidates per requested chunk when filtering by company
	MaxSources      int `yaml:"max_sources"`
}

// PricingConfig holds USD prices per million tokens.
type PricingConfig struct {
	EmbeddingPerMillion float64 `yaml:"embedding_per_million"`
	InputPerMillion     float64 `yaml:"input_per_million"`
	OutputPerMillion    float64 `yaml:"output_per_million"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr                     string `yaml:"addr"`
	ReadHeaderTimeoutSeconds int    `yaml:"read_header_timeout_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json"
}

// MinOverfetchFactor is the smallest accepted overfetch factor.
const MinOverfetchFactor = 10

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir:         "data",
			Database:    "transcripts.db",
			Index:       "index.db",
			Transcripts: "transcripts",
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.txt"},
			Excludes: []string{"**/.*/**", "**/README*"},
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			BaseURL:           "https://api.openai.com/v1",
			APIKeyEnv:         "OPENAI_API_KEY",
			Dimension:         1536,
			BatchSize:         100,
			RequestsPerSecond: 5,
			TimeoutSeconds:    60,
		},
		Completion: CompletionConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			BaseURL:        "https://api.openai.com/v1",
			APIKeyEnv:      "OPENAI_API_KEY",
			Temperature:    0,
			TimeoutSeconds: 120,
		},
		Retrieve: RetrieveConfig{
			TopK:            6,
			OverfetchFactor: MinOverfetchFactor,
			MaxSources:      3,
		},
		Pricing: PricingConfig{
			EmbeddingPerMillion: 0.02,
			InputPerMillion:     0.15,
			OutputPerMillion:    0.60,
		},
		Server: ServerConfig{
			Addr:                     ":8000",
			ReadHeaderTimeoutSeconds: 10,
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
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", domain.ErrConfiguration, path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for cloudrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "cloudrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".cloudrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// LoadEnv loads dir/.env and dir/config/.env into the process environment.
// Variables that are already set are left alone, and missing files are skipped.
func LoadEnv(dir string) error {
	for _, path := range []string{
		filepath.Join(dir, ".env"),
		filepath.Join(dir, "config", ".env"),
	} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports settings that cannot produce a working index or query path.
func (c *Config) Validate() error {
	var problems []string

	if c.Chunking.Size <= 0 {
		problems = append(problems, fmt.Sprintf("chunking.size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		problems = append(problems, fmt.Sprintf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap))
	}
	if c.Embedding.Dimension <= 0 {
		problems = append(problems, "embedding.dimension must be positive")
	}
	if c.Embedding.BatchSize <= 0 {
		problems = append(problems, "embedding.batch_size must be positive")
	}
	if c.Embedding.RequestsPerSecond < 0 {
		problems = append(problems, "embedding.requests_per_second must not be negative")
	}
	if !validProvider(c.Embedding.Provider) {
		problems = append(problems, fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if !validProvider(c.Completion.Provider) {
		problems = append(problems, fmt.Sprintf("unknown completion provider %q", c.Completion.Provider))
	}
	if c.Retrieve.TopK <= 0 {
		problems = append(problems, "retrieve.top_k must be positive")
	}
	if c.Retrieve.OverfetchFactor < MinOverfetchFactor {
		problems = append(problems, fmt.Sprintf("retrieve.overfetch_factor must be at least %d, got %d",
			MinOverfetchFactor, c.Retrieve.OverfetchFactor))
	}
	if c.Retrieve.MaxSources <= 0 {
		problems = append(problems, "retrieve.max_sources must be positive")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown logging format %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func validProvider(p string) bool {
	return p == "openai" || p == "mock"
}

// DatabasePath returns the document database path for the project at root.
func (c *Config) DatabasePath(root string) string {
	return c.resolve(root, c.Data.Database)
}

// IndexPath returns the vector index path for the project at root.
func (c *Config) IndexPath(root string) string {
	return c.resolve(root, c.Data.Index)
}

// TranscriptsDir returns the default ingest directory for the project at root.
func (c *Config) TranscriptsDir(root string) string {
	return c.resolve(root, c.Data.Transcripts)
}

func (c *Config) resolve(root, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	dir := c.Data.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return filepath.Join(dir, name)
}
