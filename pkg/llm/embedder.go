package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL or OpenAI-compatible endpoint
	APIKey    string
	Dimension int
	BatchSize int
	Logger    *zap.Logger
}

// Embedder turns text into vectors of a fixed dimension through a langchaingo
// embeddings.Embedder. Every vector is checked against Dimension before it is
// handed to a caller.
type Embedder struct {
	config   EmbedderConfig
	embedder embeddings.Embedder
	logger   *zap.Logger
}

var _ types.Embedder = (*Embedder)(nil)

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		if config.Dimension == 0 {
			config.Dimension = 768
		}
		llm, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeEmbedFailure, "failed to initialize ollama embedder")
		}
		client = llm
	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		if config.Dimension == 0 {
			config.Dimension = 1536
		}
		opts := []openai.Option{
			openai.WithEmbeddingModel(config.Model),
			openai.WithToken(config.APIKey),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeEmbedFailure, "failed to initialize openai embedder")
		}
		client = llm
	default:
		return nil, errs.New(errs.CodeConfigInvalid, fmt.Sprintf("unknown embedding provider %q", config.Provider))
	}

	impl, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEmbedFailure, "failed to create embedder")
	}

	return NewEmbedder(impl, config), nil
}

// NewEmbedder wraps an existing langchaingo embedder.
func NewEmbedder(e embeddings.Embedder, config EmbedderConfig) *Embedder {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Embedder{
		config:   config,
		embedder: e,
		logger:   config.Logger.Named("embedder"),
	}
}

func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

// Embed returns the vector for a single query text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEmbedFailure, "failed to embed query", errs.Field("model", e.config.Model))
	}
	if err := e.checkDimension(vector, 0); err != nil {
		return nil, err
	}
	return vector, nil
}

// EmbedMany returns one vector per input text, in input order.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEmbedFailure, "failed to embed documents",
			errs.Field("model", e.config.Model), errs.Field("count", len(texts)))
	}
	if len(vectors) != len(texts) {
		return nil, errs.New(errs.CodeEmbedFailure, "embedder returned wrong number of vectors",
			errs.Field("want", len(texts)), errs.Field("got", len(vectors)))
	}
	for i, v := range vectors {
		if err := e.checkDimension(v, i); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("embedded documents", zap.Int("count", len(texts)))
	return vectors, nil
}

func (e *Embedder) checkDimension(v []float32, index int) error {
	if len(v) != e.config.Dimension {
		return errs.New(errs.CodeDimensionMismatch, "embedding model returned unexpected dimension",
			errs.Field("index", index), errs.Field("want", e.config.Dimension), errs.Field("got", len(v)))
	}
	return nil
}
