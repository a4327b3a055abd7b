package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/config"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/ingest"
	"github.com/xhad/rolerag/pkg/llm"
	"github.com/xhad/rolerag/pkg/logging"
	"github.com/xhad/rolerag/pkg/rag"
	"github.com/xhad/rolerag/pkg/search"
	"github.com/xhad/rolerag/pkg/store"
)

// app holds the subsystems shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    types.DocumentStore
	embedder types.Embedder
}

// loadConfig reads the config file named by --config and applies the
// command-line overrides before validating the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if backend, _ := cmd.Flags().GetString("store"); backend != "" {
		cfg.Database.Backend = backend
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires config, logger, store and embedder. defaultLevel applies when
// the config leaves log.level unset.
func newApp(ctx context.Context, cmd *cobra.Command, defaultLevel string) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if level == "" {
		level = defaultLevel
	}
	logger, err := logging.New(logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.EmbeddingModel,
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Dimension: cfg.Database.VectorDim,
		BatchSize: cfg.Ingest.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: st, embedder: embedder}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (types.DocumentStore, error) {
	switch cfg.Database.Backend {
	case config.BackendPostgres:
		s, err := store.NewPostgres(ctx, store.PostgresConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
			BatchSize:  cfg.Database.BatchSize,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		s, err := store.NewSQLite(ctx, cfg.Database.Path, cfg.Database.VectorDim, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		logger.Warn("using the in-memory store; documents are discarded on exit")
		return store.NewMemory(cfg.Database.VectorDim), nil
	default:
		return nil, errs.New(errs.CodeConfigInvalid, "unknown database backend",
			errs.Field("backend", cfg.Database.Backend))
	}
}

func (a *app) Close() {
	a.store.Close()
	_ = a.logger.Sync()
}

func (a *app) searcher() *search.Service {
	return search.New(a.store, a.logger,
		search.WithThreshold(a.cfg.Search.Threshold),
		search.WithLimit(a.cfg.Search.Limit),
	)
}

func (a *app) assistant() (*rag.Assistant, error) {
	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    a.cfg.LLM.Provider,
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		BaseURL:     a.cfg.LLM.BaseURL,
		APIKey:      a.cfg.LLM.APIKey,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, err
	}
	return rag.NewAssistant(a.embedder, a.searcher(), chat, a.logger), nil
}

// retriever answers search-only requests and never calls a generator.
func (a *app) retriever() *rag.Assistant {
	return rag.NewAssistant(a.embedder, a.searcher(), nil, a.logger)
}

func (a *app) ingester(onProgress func(stage string, done, total int)) *ingest.Ingester {
	return ingest.New(a.store, a.embedder, ingest.Config{
		BatchSize:      a.cfg.Ingest.BatchSize,
		RateLimit:      a.cfg.Ingest.RateLimit,
		ChunkSize:      a.cfg.Ingest.ChunkSize,
		ChunkOverlap:   a.cfg.Ingest.ChunkOverlap,
		FetchTimeout:   a.cfg.Ingest.FetchTimeout,
		FetchRateLimit: a.cfg.Ingest.FetchRateLimit,
		OnProgress:     onProgress,
		Logger:         a.logger,
	})
}

// seed replaces the store contents with the sample corpus.
func (a *app) seed(ctx context.Context) (ingest.Report, error) {
	return a.ingester(nil).Run(ctx, ingest.SeedEntries(), ingest.ModeReplace)
}
