package types

import (
	"context"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/pkg/role"
)

// SimilarityTolerance is subtracted from the threshold wherever it is
// applied. Backends score in float32, so a document whose exact cosine equals
// the threshold can come back a few ulps below it.
const SimilarityTolerance = 1e-6

// MatchQuery is the single fused filter+rank request a DocumentStore executes.
type MatchQuery struct {
	Embedding []float32
	Role      role.Role
	Threshold float64
	Limit     int
}

// DocumentStore is the persistence boundary. Match must apply the role filter
// and the similarity ranking as one indivisible operation.
type DocumentStore interface {
	Insert(ctx context.Context, docs []models.Document) error
	Clear(ctx context.Context) error
	// Replace clears the store and inserts docs atomically.
	Replace(ctx context.Context, docs []models.Document) error
	Match(ctx context.Context, q MatchQuery) ([]models.SearchResult, error)
	Count(ctx context.Context) (int, error)
	Dimension() int
	Close()
}

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Generator answers a question from already-authorized context.
type Generator interface {
	Answer(ctx context.Context, authorizedContext, question string) (string, error)
	AnswerStream(ctx context.Context, authorizedContext, question string) (<-chan string, <-chan error)
}

// Searcher is the sanctioned path from a query vector to caller-visible documents.
type Searcher interface {
	Search(ctx context.Context, vector []float32, roleName string, opts ...SearchOption) ([]models.SearchResult, error)
}

// SearchOptions tunes a single Search call.
type SearchOptions struct {
	Threshold float64
	Limit     int
}

// SearchOption mutates SearchOptions.
type SearchOption func(*SearchOptions)
