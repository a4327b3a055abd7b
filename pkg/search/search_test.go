package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/logging"
	"github.com/xhad/rolerag/pkg/role"
	"github.com/xhad/rolerag/pkg/store"
)

var everyone = []role.Role{role.Public, role.Intern, role.Engineer, role.HR}

// seeded mirrors the sample corpus with hand-picked three-dimensional vectors:
// axis 0 is "deployment/security", axis 1 is "compensation", axis 2 is "roadmap".
func seeded(t *testing.T) *store.Memory {
	t.Helper()
	s := store.NewMemory(3)
	require.NoError(t, s.Replace(context.Background(), []models.Document{
		{
			Content:      "The production deployment keys are stored in the secure vault.",
			Metadata:     map[string]interface{}{"source": "engineering_guide.txt"},
			AllowedRoles: []role.Role{role.Engineer},
			Embedding:    []float32{1, 0, 0.1},
		},
		{
			Content:      "The annual bonus formula is calculated based on individual performance.",
			Metadata:     map[string]interface{}{"source": "executive_comp.txt"},
			AllowedRoles: []role.Role{role.HR},
			Embedding:    []float32{0, 1, 0},
		},
		{
			Content:      "New interns should check the onboarding wiki for the first week schedule.",
			Metadata:     map[string]interface{}{"source": "intern_onboarding.txt"},
			AllowedRoles: []role.Role{role.Intern, role.Engineer, role.HR},
			Embedding:    []float32{0.2, 0.2, 0.2},
		},
		{
			Content:      "Our public product roadmap includes AI integration by Q4.",
			Metadata:     map[string]interface{}{"source": "public_web.txt"},
			AllowedRoles: everyone,
			Embedding:    []float32{0.6, 0, 0.8},
		},
		{
			Content:      "Employee health benefits include full dental and vision coverage.",
			Metadata:     map[string]interface{}{"source": "employee_handbook.txt"},
			AllowedRoles: []role.Role{role.HR, role.Engineer, role.Intern},
			Embedding:    []float32{0, 0.7, 0.7},
		},
	}))
	return s
}

func TestSearchRoleScoping(t *testing.T) {
	svc := New(seeded(t), nil)
	deployment := []float32{1, 0, 0}

	tests := []struct {
		role    string
		sources []string
	}{
		{"public", []string{"public_web.txt"}},
		{"intern", []string{"public_web.txt", "intern_onboarding.txt"}},
		{"engineer", []string{"engineering_guide.txt", "public_web.txt", "intern_onboarding.txt"}},
		{"hr", []string{"public_web.txt", "intern_onboarding.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			results, err := svc.Search(context.Background(), deployment, tt.role)
			require.NoError(t, err)

			sources := make([]string, len(results))
			for i, r := range results {
				sources[i] = r.Source()
				assert.Contains(t, r.AllowedRoles, role.Role(tt.role))
				assert.GreaterOrEqual(t, r.Similarity, DefaultThreshold)
			}
			assert.Equal(t, tt.sources, sources)
		})
	}
}

func TestSearchFailsClosedOnInvalidRole(t *testing.T) {
	m := &recordingStore{Memory: seeded(t)}
	svc := New(m, nil)

	for _, name := range []string{"", "superadmin", "Engineer", "HR", " public", "public\n", "hr' OR '1'='1"} {
		t.Run(name, func(t *testing.T) {
			results, err := svc.Search(context.Background(), []float32{1, 0, 0}, name)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidRole)
			assert.True(t, errs.HasCode(err, errs.CodeInvalidRole))
			assert.Nil(t, results)
		})
	}
	assert.Zero(t, m.calls)
}

func TestSearchRejectsBadRequests(t *testing.T) {
	m := &recordingStore{Memory: seeded(t)}
	svc := New(m, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		vector []float32
		opts   []Option
		want   error
	}{
		{"short vector", []float32{1, 0}, nil, errs.ErrDimensionMismatch},
		{"long vector", []float32{1, 0, 0, 0}, nil, errs.ErrDimensionMismatch},
		{"empty vector", nil, nil, errs.ErrDimensionMismatch},
		{"zero vector", []float32{0, 0, 0}, nil, errs.ErrInvalidArgument},
		{"nan vector", []float32{float32(math.NaN()), 1, 0}, nil, errs.ErrInvalidArgument},
		{"zero limit", []float32{1, 0, 0}, []Option{WithLimit(0)}, errs.ErrInvalidArgument},
		{"negative limit", []float32{1, 0, 0}, []Option{WithLimit(-3)}, errs.ErrInvalidArgument},
		{"nan threshold", []float32{1, 0, 0}, []Option{WithThreshold(math.NaN())}, errs.ErrInvalidArgument},
		{"infinite threshold", []float32{1, 0, 0}, []Option{WithThreshold(math.Inf(-1))}, errs.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := svc.Search(ctx, tt.vector, "engineer", tt.opts...)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, results)
		})
	}
	assert.Zero(t, m.calls)
}

func TestSearchOptions(t *testing.T) {
	svc := New(seeded(t), nil)
	ctx := context.Background()

	results, err := svc.Search(ctx, []float32{1, 0, 0}, "engineer", WithLimit(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "engineering_guide.txt", results[0].Source())

	results, err = svc.Search(ctx, []float32{1, 0, 0}, "hr", WithThreshold(-1), WithLimit(10))
	require.NoError(t, err)
	assert.Len(t, results, 4)

	results, err = svc.Search(ctx, []float32{0, 1, 0}, "public")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	strict := New(seeded(t), nil, WithThreshold(0.99))
	results, err = strict.Search(ctx, []float32{1, 0, 0}, "engineer")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchThresholdInclusive(t *testing.T) {
	s := store.NewMemory(2)
	require.NoError(t, s.Insert(context.Background(), []models.Document{
		{Content: "exact", AllowedRoles: everyone, Embedding: []float32{1, 0}},
		{Content: "orthogonal", AllowedRoles: everyone, Embedding: []float32{0, 1}},
	}))
	svc := New(s, nil)

	results, err := svc.Search(context.Background(), []float32{1, 0}, "public", WithThreshold(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exact", results[0].Content)

	results, err = svc.Search(context.Background(), []float32{1, 0}, "public", WithThreshold(0))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchThresholdAtExactCosine(t *testing.T) {
	backends := map[string]func(t *testing.T, dim int) types.DocumentStore{
		"memory": func(t *testing.T, dim int) types.DocumentStore { return store.NewMemory(dim) },
		"sqlite": func(t *testing.T, dim int) types.DocumentStore {
			s, err := store.NewSQLite(context.Background(), t.TempDir()+"/documents.db", dim, nil)
			require.NoError(t, err)
			t.Cleanup(s.Close)
			return s
		},
	}
	tests := []struct {
		name   string
		doc    []float32
		query  []float32
		cosine float64
	}{
		{"3-4-5", []float32{3, 4}, []float32{5, 0}, 0.6},
		{"5-12-13", []float32{5, 12}, []float32{13, 0}, 5.0 / 13},
		{"1-2-2", []float32{1, 2, 2}, []float32{1, 0, 0}, 1.0 / 3},
		{"diagonal", []float32{1, 1}, []float32{1, 0}, math.Sqrt2 / 2},
	}
	for name, open := range backends {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				s := open(t, len(tt.query))
				require.NoError(t, s.Insert(context.Background(), []models.Document{
					{Content: "boundary", AllowedRoles: everyone, Embedding: tt.doc},
				}))

				results, err := New(s, nil).Search(context.Background(), tt.query, "public", WithThreshold(tt.cosine))
				require.NoError(t, err)
				require.Len(t, results, 1)
				assert.Equal(t, "boundary", results[0].Content)
			})
		}
	}
}

func TestSearchAcceptsRowsWithinTolerance(t *testing.T) {
	drifted := models.SearchResult{
		Document:   models.Document{ID: 1, Content: "roadmap", AllowedRoles: []role.Role{role.Public}},
		Similarity: 0.6 - types.SimilarityTolerance/2,
	}
	svc := New(&fakeStore{results: []models.SearchResult{drifted}}, nil)

	results, err := svc.Search(context.Background(), []float32{1, 0}, "public", WithThreshold(0.6))
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchIsDeterministic(t *testing.T) {
	svc := New(seeded(t), nil)
	q := []float32{0.3, 0.3, 0.3}

	first, err := svc.Search(context.Background(), q, "hr", WithThreshold(0))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := svc.Search(context.Background(), q, "hr", WithThreshold(0))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearchStoreFailures(t *testing.T) {
	leaky := models.SearchResult{
		Document: models.Document{ID: 9, Content: "bonus formula", AllowedRoles: []role.Role{role.HR}},
		Similarity: 0.9,
	}
	unknown := models.SearchResult{
		Document: models.Document{ID: 3, Content: "roadmap", AllowedRoles: []role.Role{role.Public, "root"}},
		Similarity: 0.9,
	}
	low := models.SearchResult{
		Document: models.Document{ID: 4, Content: "roadmap", AllowedRoles: []role.Role{role.Public}},
		Similarity: 0.1,
	}
	ok := models.SearchResult{
		Document: models.Document{ID: 5, Content: "roadmap", AllowedRoles: []role.Role{role.Public}},
		Similarity: 0.95,
	}

	tests := []struct {
		name    string
		results []models.SearchResult
		err     error
		want    error
	}{
		{"driver error", nil, errors.New("connection refused"), errs.ErrStoreUnavailable},
		{"coded error kept", nil, errs.New(errs.CodeDimensionMismatch, "bad"), errs.ErrDimensionMismatch},
		{"row outside role", []models.SearchResult{ok, leaky}, nil, errs.ErrIntegrity},
		{"unknown role in acl", []models.SearchResult{unknown}, nil, errs.ErrIntegrity},
		{"below threshold", []models.SearchResult{low}, nil, errs.ErrIntegrity},
		{"out of order", []models.SearchResult{{Document: ok.Document, Similarity: 0.6}, ok}, nil, errs.ErrIntegrity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(&fakeStore{results: tt.results, err: tt.err}, nil)
			results, err := svc.Search(context.Background(), []float32{1, 0}, "public")
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, results)
		})
	}
}

func TestSearchLogsNoContent(t *testing.T) {
	logger, logs := logging.NewObserved()
	svc := New(seeded(t), logger)

	results, err := svc.Search(context.Background(), []float32{1, 0, 0}, "engineer")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	entries := logs.FilterMessage("search completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "engineer", fields["role"])
	assert.EqualValues(t, len(results), fields["results"])
	for _, e := range logs.All() {
		for _, v := range e.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "vault")
		}
	}
}

type recordingStore struct {
	*store.Memory
	calls int
}

func (r *recordingStore) Match(ctx context.Context, q types.MatchQuery) ([]models.SearchResult, error) {
	r.calls++
	return r.Memory.Match(ctx, q)
}

type fakeStore struct {
	results []models.SearchResult
	err     error
}

func (f *fakeStore) Insert(context.Context, []models.Document) error  { return nil }
func (f *fakeStore) Clear(context.Context) error                      { return nil }
func (f *fakeStore) Replace(context.Context, []models.Document) error { return nil }
func (f *fakeStore) Count(context.Context) (int, error)               { return len(f.results), nil }
func (f *fakeStore) Dimension() int                                   { return 2 }
func (f *fakeStore) Close()                                           {}

func (f *fakeStore) Match(context.Context, types.MatchQuery) ([]models.SearchResult, error) {
	return f.results, f.err
}
