// Package ingest validates, embeds and writes role-tagged documents.
//
// Every entry is checked, fetched, chunked and embedded before the store is
// touched, so a bad entry or an embedding failure leaves the store unchanged.
package ingest

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/role"
)

// Mode selects how a run treats existing documents.
type Mode int

const (
	// ModeReplace clears the store and inserts in one transaction.
	ModeReplace Mode = iota
	// ModeAppend inserts without clearing.
	ModeAppend
)

func (m Mode) String() string {
	if m == ModeAppend {
		return "append"
	}
	return "replace"
}

// Stage names reported through OnProgress.
const (
	StageFetch = "fetch"
	StageEmbed = "embed"
	StageWrite = "write"
)

type Config struct {
	BatchSize      int     // texts per embedding request
	RateLimit      float64 // embedding requests per second, 0 = unlimited
	ChunkSize      int     // 0 keeps one document per entry
	ChunkOverlap   int
	FetchTimeout   time.Duration
	FetchRateLimit float64
	OnProgress     func(stage string, done, total int)
	Logger         *zap.Logger
}

// Report summarizes a completed run.
type Report struct {
	Entries   int
	Documents int
	Mode      Mode
	Elapsed   time.Duration
}

type Ingester struct {
	store    types.DocumentStore
	embedder types.Embedder
	fetcher  *Fetcher
	chunker  Chunker
	limiter  *rate.Limiter
	config   Config
	logger   *zap.Logger
}

func New(store types.DocumentStore, embedder types.Embedder, config Config) *Ingester {
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &Ingester{
		store:    store,
		embedder: embedder,
		fetcher:  NewFetcher(FetcherConfig{RateLimit: config.FetchRateLimit, Timeout: config.FetchTimeout}),
		chunker:  NewChunker(ChunkerConfig{Size: config.ChunkSize, Overlap: config.ChunkOverlap}),
		limiter:  limiter,
		config:   config,
		logger:   config.Logger.Named("ingest"),
	}
}

// WithFetcher replaces the URL fetcher.
func (in *Ingester) WithFetcher(f *Fetcher) *Ingester {
	in.fetcher = f
	return in
}

// Run ingests entries. Nothing is written unless every entry validates and
// embeds successfully.
func (in *Ingester) Run(ctx context.Context, entries []Entry, mode Mode) (Report, error) {
	start := time.Now()

	roles, err := validateEntries(entries)
	if err != nil {
		return Report{}, err
	}

	docs, err := in.expand(ctx, entries, roles)
	if err != nil {
		return Report{}, err
	}

	if err := in.embed(ctx, docs); err != nil {
		return Report{}, err
	}

	in.progress(StageWrite, 0, 1)
	switch mode {
	case ModeAppend:
		err = in.store.Insert(ctx, docs)
	default:
		err = in.store.Replace(ctx, docs)
	}
	if err != nil {
		return Report{}, err
	}
	in.progress(StageWrite, 1, 1)

	report := Report{
		Entries:   len(entries),
		Documents: len(docs),
		Mode:      mode,
		Elapsed:   time.Since(start),
	}
	in.logger.Info("ingestion complete",
		zap.Int("entries", report.Entries),
		zap.Int("documents", report.Documents),
		zap.Stringer("mode", mode),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

func validateEntries(entries []Entry) ([][]role.Role, error) {
	roles := make([][]role.Role, len(entries))
	for i, e := range entries {
		hasContent := strings.TrimSpace(e.Content) != ""
		hasURL := strings.TrimSpace(e.URL) != ""
		switch {
		case hasContent && hasURL:
			return nil, errs.New(errs.CodeInvalidDocument, "entry sets both content and url", errs.Field("index", i))
		case !hasContent && !hasURL:
			return nil, errs.New(errs.CodeInvalidDocument, "entry content must not be empty", errs.Field("index", i))
		}

		set, err := role.ValidateSet(e.AllowedRoles)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeInvalidDocument, "entry has invalid allowed_roles", errs.Field("index", i))
		}
		roles[i] = set
	}
	return roles, nil
}

// expand resolves URLs and applies chunking, producing one document per chunk.
func (in *Ingester) expand(ctx context.Context, entries []Entry, roles [][]role.Role) ([]models.Document, error) {
	var (
		docs    []models.Document
		fetched int
		toFetch int
	)
	for _, e := range entries {
		if e.URL != "" {
			toFetch++
		}
	}

	for i, e := range entries {
		content := e.Content
		metadata := copyMetadata(e.Metadata)

		if strings.TrimSpace(e.URL) != "" {
			page, err := in.fetcher.Fetch(ctx, strings.TrimSpace(e.URL))
			if err != nil {
				return nil, err
			}
			fetched++
			in.progress(StageFetch, fetched, toFetch)

			if page.Content == "" {
				return nil, errs.New(errs.CodeInvalidDocument, "fetched page has no text", errs.Field("index", i))
			}
			content = page.Content
			if _, ok := metadata["source"]; !ok {
				metadata["source"] = page.URL
			}
			if page.Title != "" {
				if _, ok := metadata["title"]; !ok {
					metadata["title"] = page.Title
				}
			}
		}

		if !in.chunker.Enabled() {
			docs = append(docs, models.Document{Content: content, Metadata: metadata, AllowedRoles: roles[i]})
			continue
		}

		for n, chunk := range in.chunker.Split(content) {
			md := copyMetadata(metadata)
			md["chunk_index"] = n
			docs = append(docs, models.Document{Content: chunk, Metadata: md, AllowedRoles: roles[i]})
		}
	}
	return docs, nil
}

// embed fills in embeddings batch by batch, throttled by the rate limiter.
func (in *Ingester) embed(ctx context.Context, docs []models.Document) error {
	dim := in.store.Dimension()
	if in.embedder.Dimension() != dim {
		return errs.New(errs.CodeDimensionMismatch, "embedder and store dimensions differ",
			errs.Field("embedder", in.embedder.Dimension()), errs.Field("store", dim))
	}

	in.progress(StageEmbed, 0, len(docs))
	for i := 0; i < len(docs); i += in.config.BatchSize {
		end := i + in.config.BatchSize
		if end > len(docs) {
			end = len(docs)
		}

		if err := in.limiter.Wait(ctx); err != nil {
			return errs.Wrap(err, errs.CodeEmbedFailure, "waiting for embedding slot")
		}

		texts := make([]string, 0, end-i)
		for _, d := range docs[i:end] {
			texts = append(texts, d.Content)
		}

		vectors, err := in.embedder.EmbedMany(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return errs.New(errs.CodeEmbedFailure, "embedder returned wrong number of vectors",
				errs.Field("want", len(texts)), errs.Field("got", len(vectors)))
		}
		for j, v := range vectors {
			if len(v) != dim {
				return errs.New(errs.CodeDimensionMismatch, "embedding has wrong dimension",
					errs.Field("index", i+j), errs.Field("want", dim), errs.Field("got", len(v)))
			}
			docs[i+j].Embedding = v
		}

		in.progress(StageEmbed, end, len(docs))
	}
	return nil
}

func (in *Ingester) progress(stage string, done, total int) {
	if in.config.OnProgress != nil {
		in.config.OnProgress(stage, done, total)
	}
}

func copyMetadata(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
