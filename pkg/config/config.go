package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xhad/rolerag/pkg/errs"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	APIKey         string  `yaml:"api_key"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

type DatabaseConfig struct {
	Backend   string `yaml:"backend"`
	URL       string `yaml:"url"`
	Path      string `yaml:"path"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
	BatchSize int    `yaml:"batch_size"`
}

type SearchConfig struct {
	Threshold float64 `yaml:"threshold"`
	Limit     int     `yaml:"limit"`
}

type IngestConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	RateLimit      float64       `yaml:"rate_limit"`
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkOverlap   int           `yaml:"chunk_overlap"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	FetchRateLimit float64       `yaml:"fetch_rate_limit"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type UIConfig struct {
	Streaming bool `yaml:"streaming"`
}

type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Database DatabaseConfig `yaml:"database"`
	Search   SearchConfig   `yaml:"search"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	UI       UIConfig       `yaml:"ui"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/rolerag/config.yaml"),
			"/etc/rolerag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeConfigInvalid, "error reading config file", errs.Field("path", path))
	}

	// Values present in the file override the defaults, including explicit zeros.
	config := newDefaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errs.Wrap(err, errs.CodeConfigInvalid, "error parsing config file", errs.Field("path", path))
	}

	// Merge with environment variables
	mergeWithEnv(config)

	// Apply defaults for unset values
	applyDefaults(config)

	return config, nil
}

func getDefaultConfig() (*Config, error) {
	config := newDefaults()
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func newDefaults() *Config {
	return &Config{
		Search: SearchConfig{Threshold: 0.5, Limit: 5},
		Ingest: IngestConfig{FetchTimeout: 30 * time.Second, FetchRateLimit: 2},
		UI:     UIConfig{Streaming: true},
	}
}

// applyDefaults fills values that depend on the chosen provider or backend.
func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	switch config.LLM.Provider {
	case "openai":
		if config.LLM.Model == "" {
			config.LLM.Model = "gpt-4o"
		}
		if config.LLM.EmbeddingModel == "" {
			config.LLM.EmbeddingModel = "text-embedding-3-small"
		}
		if config.Database.VectorDim == 0 {
			config.Database.VectorDim = 1536
		}
	default:
		if config.LLM.Model == "" {
			config.LLM.Model = "mistral"
		}
		if config.LLM.EmbeddingModel == "" {
			config.LLM.EmbeddingModel = "nomic-embed-text:latest"
		}
		if config.LLM.BaseURL == "" {
			config.LLM.BaseURL = "http://localhost:11434"
		}
		if config.Database.VectorDim == 0 {
			config.Database.VectorDim = 768
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}

	if config.Database.Backend == "" {
		config.Database.Backend = BackendPostgres
	}
	if config.Database.TableName == "" {
		config.Database.TableName = "documents"
	}
	if config.Database.Path == "" {
		config.Database.Path = "rolerag.db"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Ingest.BatchSize == 0 {
		config.Ingest.BatchSize = 16
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Log.Format == "" {
		config.Log.Format = "console"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if backend := os.Getenv("ROLERAG_STORE"); backend != "" {
		config.Database.Backend = backend
	}
	if level := os.Getenv("ROLERAG_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
