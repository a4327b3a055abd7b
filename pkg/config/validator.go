package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"

	"go.uber.org/zap/zapcore"

	"github.com/xhad/rolerag/pkg/errs"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg})
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			add("llm.base_url", "Ollama base URL is required")
		}
	case "openai":
		if c.LLM.APIKey == "" {
			add("llm.api_key", "api_key is required for the openai provider")
		}
	default:
		add("llm.provider", fmt.Sprintf("unknown provider %q", c.LLM.Provider))
	}

	if c.LLM.BaseURL != "" && !isHTTPURL(c.LLM.BaseURL) {
		add("llm.base_url", "invalid base URL")
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		add("llm.max_tokens", "max_tokens must be between 1 and 4096")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	// Validate Database config
	switch c.Database.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			add("database.url", "url is required for the postgres backend")
		} else if u, err := url.Parse(c.Database.URL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			add("database.url", "invalid database URL")
		}
	case BackendSQLite:
		if c.Database.Path == "" {
			add("database.path", "path is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		add("database.backend", fmt.Sprintf("unknown backend %q", c.Database.Backend))
	}

	if c.Database.VectorDim < 1 {
		add("database.vector_dim", "vector_dim must be positive")
	}

	if c.Database.BatchSize < 1 {
		add("database.batch_size", "batch_size must be positive")
	}

	// Validate Search config
	if math.IsNaN(c.Search.Threshold) || c.Search.Threshold < -1 || c.Search.Threshold > 1 {
		add("search.threshold", "threshold must be between -1 and 1")
	}

	if c.Search.Limit < 1 {
		add("search.limit", "limit must be positive")
	}

	// Validate Ingest config
	if c.Ingest.BatchSize < 1 {
		add("ingest.batch_size", "batch_size must be positive")
	}

	if c.Ingest.RateLimit < 0 || c.Ingest.FetchRateLimit < 0 {
		add("ingest.rate_limit", "rate limits must not be negative")
	}

	if c.Ingest.ChunkSize < 0 {
		add("ingest.chunk_size", "chunk_size must not be negative")
	} else if c.Ingest.ChunkSize > 0 && (c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize) {
		add("ingest.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Validate Server and Log config
	if c.Server.Addr == "" {
		add("server.addr", "addr is required")
	}

	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			add("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
		}
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		add("log.format", "format must be json or console")
	}

	return errors
}

// Err folds Validate into a single ConfigInvalid error, or nil.
func (c *Config) Err() error {
	problems := c.Validate()
	if len(problems) == 0 {
		return nil
	}
	joined := make([]error, len(problems))
	for i, p := range problems {
		joined[i] = p
	}
	return errs.Wrap(errors.Join(joined...), errs.CodeConfigInvalid, "invalid configuration",
		errs.Field("problems", len(problems)))
}

func isHTTPURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
