// Package rag assembles role-scoped answers: validate the role, embed the
// question, search as that role, and generate from the authorized context only.
package rag

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/role"
)

// NoContext is handed to the generator when nothing authorized matched.
const NoContext = "No relevant documents found that you are authorized to see."

const separator = "---\n"

// BuildContext concatenates the content of results in order and returns the
// de-duplicated list of their sources. found is false when results is empty,
// in which case the context is NoContext.
func BuildContext(results []models.SearchResult) (text string, sources []string, found bool) {
	if len(results) == 0 {
		return NoContext, []string{}, false
	}

	var b strings.Builder
	seen := make(map[string]bool, len(results))
	sources = make([]string, 0, len(results))
	for _, r := range results {
		b.WriteString(separator)
		b.WriteString(r.Content)
		b.WriteString("\n")

		src := r.Source()
		if !seen[src] {
			seen[src] = true
			sources = append(sources, src)
		}
	}
	return b.String(), sources, true
}

// Answer is the outcome of a single question.
type Answer struct {
	Text    string
	Sources []string
	Results []models.SearchResult
}

// Assistant wires the embedding, search and generation capabilities.
type Assistant struct {
	embedder  types.Embedder
	searcher  types.Searcher
	generator types.Generator
	logger    *zap.Logger
}

func NewAssistant(embedder types.Embedder, searcher types.Searcher, generator types.Generator, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assistant{
		embedder:  embedder,
		searcher:  searcher,
		generator: generator,
		logger:    logger.Named("assistant"),
	}
}

// Retrieve validates roleName, embeds question and returns the authorized
// matches. The role is checked before the embedder is called.
func (a *Assistant) Retrieve(ctx context.Context, roleName, question string, opts ...types.SearchOption) ([]models.SearchResult, error) {
	if _, err := role.Validate(roleName); err != nil {
		return nil, err
	}

	vector, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	return a.searcher.Search(ctx, vector, roleName, opts...)
}

// Ask answers question as roleName.
func (a *Assistant) Ask(ctx context.Context, roleName, question string, opts ...types.SearchOption) (Answer, error) {
	start := time.Now()

	results, err := a.Retrieve(ctx, roleName, question, opts...)
	if err != nil {
		return Answer{}, err
	}

	text, sources, _ := BuildContext(results)
	reply, err := a.generator.Answer(ctx, text, question)
	if err != nil {
		return Answer{}, err
	}

	a.logger.Info("question answered",
		zap.String("role", roleName),
		zap.Int("documents", len(results)),
		zap.Duration("elapsed", time.Since(start)))

	return Answer{Text: reply, Sources: sources, Results: results}, nil
}

// Stream is an answer still being generated. Chunks is closed when generation
// ends; Err then yields at most one error.
type Stream struct {
	Chunks  <-chan string
	Err     <-chan error
	Sources []string
	Results []models.SearchResult
}

// AskStream is Ask with a streamed reply. Retrieval errors are returned
// immediately; generation errors arrive on Stream.Err.
func (a *Assistant) AskStream(ctx context.Context, roleName, question string, opts ...types.SearchOption) (Stream, error) {
	results, err := a.Retrieve(ctx, roleName, question, opts...)
	if err != nil {
		return Stream{}, err
	}

	text, sources, _ := BuildContext(results)
	chunks, errc := a.generator.AnswerStream(ctx, text, question)
	return Stream{Chunks: chunks, Err: errc, Sources: sources, Results: results}, nil
}
