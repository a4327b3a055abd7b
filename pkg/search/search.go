// Package search is the only sanctioned path from a query vector to documents
// a caller may see. The role is validated on every call and the store filters
// and ranks in one operation; nothing here can widen the result set.
package search

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/role"
)

const (
	DefaultThreshold = 0.5
	DefaultLimit     = 5
)

// Option tunes a single Search call.
type Option = types.SearchOption

// WithThreshold sets the inclusive minimum cosine similarity.
func WithThreshold(threshold float64) Option {
	return func(o *types.SearchOptions) {
		o.Threshold = threshold
	}
}

// WithLimit caps the number of results.
func WithLimit(limit int) Option {
	return func(o *types.SearchOptions) {
		o.Limit = limit
	}
}

// Service runs role-scoped similarity searches against a DocumentStore.
type Service struct {
	store    types.DocumentStore
	logger   *zap.Logger
	defaults types.SearchOptions
}

var _ types.Searcher = (*Service)(nil)

// New creates a Service. The given options become the per-call defaults.
func New(store types.DocumentStore, logger *zap.Logger, defaults ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := types.SearchOptions{Threshold: DefaultThreshold, Limit: DefaultLimit}
	for _, o := range defaults {
		o(&opts)
	}
	return &Service{
		store:    store,
		logger:   logger.Named("search"),
		defaults: opts,
	}
}

// Search returns the documents visible to roleName whose similarity to vector
// is at least the threshold, best first, ties by ascending ID. An empty slice
// with a nil error means nothing authorized matched.
func (s *Service) Search(ctx context.Context, vector []float32, roleName string, opts ...Option) ([]models.SearchResult, error) {
	start := time.Now()

	r, err := role.Validate(roleName)
	if err != nil {
		s.logger.Warn("search rejected", zap.String("reason", "invalid_role"))
		return nil, err
	}

	if dim := s.store.Dimension(); len(vector) != dim {
		return nil, errs.New(errs.CodeDimensionMismatch, "query vector has wrong dimension",
			errs.Field("want", dim), errs.Field("got", len(vector)))
	}
	if !finiteNonZero(vector) {
		return nil, errs.New(errs.CodeInvalidArgument, "query vector must be finite and non-zero")
	}

	o := s.defaults
	for _, opt := range opts {
		opt(&o)
	}
	if o.Limit < 1 {
		return nil, errs.New(errs.CodeInvalidArgument, "limit must be at least 1", errs.Field("limit", o.Limit))
	}
	if math.IsNaN(o.Threshold) || math.IsInf(o.Threshold, 0) {
		return nil, errs.New(errs.CodeInvalidArgument, "threshold must be finite")
	}

	results, err := s.store.Match(ctx, types.MatchQuery{
		Embedding: vector,
		Role:      r,
		Threshold: o.Threshold,
		Limit:     o.Limit,
	})
	if err != nil {
		if errs.CodeOf(err) == "" {
			err = errs.Wrap(err, errs.CodeStoreUnavailable, "matching documents")
		}
		s.logger.Error("search failed", zap.String("role", r.String()), zap.Error(err))
		return nil, err
	}

	if err := verify(results, r, o); err != nil {
		s.logger.Error("search integrity check failed", zap.String("role", r.String()), zap.Error(err))
		return nil, err
	}

	if results == nil {
		results = []models.SearchResult{}
	}

	s.logger.Debug("search completed",
		zap.String("role", r.String()),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

// verify re-checks what the store returned. Any row outside the caller's
// authorization or the request bounds fails the whole call.
func verify(results []models.SearchResult, r role.Role, o types.SearchOptions) error {
	if len(results) > o.Limit {
		return errs.New(errs.CodeIntegrity, "store returned more rows than requested",
			errs.Field("limit", o.Limit), errs.Field("got", len(results)))
	}
	for i, res := range results {
		if !role.Contains(res.AllowedRoles, r) {
			return errs.New(errs.CodeIntegrity, "store returned a document outside the caller's role",
				errs.Field("document_id", res.ID))
		}
		for _, allowed := range res.AllowedRoles {
			if !allowed.IsValid() {
				return errs.New(errs.CodeIntegrity, "stored document carries an unrecognized role",
					errs.Field("document_id", res.ID))
			}
		}
		if res.Similarity < o.Threshold-types.SimilarityTolerance {
			return errs.New(errs.CodeIntegrity, "store returned a document below the threshold",
				errs.Field("document_id", res.ID))
		}
		if i > 0 {
			prev := results[i-1]
			if prev.Similarity < res.Similarity || (prev.Similarity == res.Similarity && prev.ID > res.ID) {
				return errs.New(errs.CodeIntegrity, "store returned documents out of order",
					errs.Field("document_id", res.ID))
			}
		}
	}
	return nil
}

func finiteNonZero(v []float32) bool {
	nonZero := false
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if f != 0 {
			nonZero = true
		}
	}
	return nonZero
}
