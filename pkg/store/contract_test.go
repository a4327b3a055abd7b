package store

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/role"
)

// runStoreContract exercises the behavior every DocumentStore backend shares.
func runStoreContract(t *testing.T, open func(t *testing.T, dim int) types.DocumentStore) {
	t.Run("perfect match hidden from unauthorized role", func(t *testing.T) {
		s := open(t, 2)
		ctx := context.Background()
		require.NoError(t, s.Replace(ctx, []models.Document{
			doc("secret", []float32{1, 0}, role.HR),
			doc("roadmap", []float32{0.6, 0.8}, role.Public, role.HR),
		}))

		results, err := s.Match(ctx, query([]float32{1, 0}, role.Public, 0, 5))
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "roadmap", results[0].Content)

		results, err = s.Match(ctx, query([]float32{1, 0}, role.HR, 0, 5))
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "secret", results[0].Content)
	})

	t.Run("unauthorized documents do not consume the limit", func(t *testing.T) {
		s := open(t, 2)
		ctx := context.Background()
		require.NoError(t, s.Replace(ctx, []models.Document{
			doc("hr 1", []float32{1, 0}, role.HR),
			doc("hr 2", []float32{1, 0.01}, role.HR),
			doc("intern 1", []float32{1, 0.2}, role.Intern),
			doc("intern 2", []float32{1, 0.3}, role.Intern),
		}))

		results, err := s.Match(ctx, query([]float32{1, 0}, role.Intern, 0.5, 2))
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "intern 1", results[0].Content)
		assert.Equal(t, "intern 2", results[1].Content)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		s := open(t, 2)
		ctx := context.Background()
		require.NoError(t, s.Replace(ctx, []models.Document{
			doc("same", []float32{1, 0}, role.Engineer),
			doc("orthogonal", []float32{0, 1}, role.Engineer),
			doc("opposite", []float32{-1, 0}, role.Engineer),
		}))

		results, err := s.Match(ctx, query([]float32{1, 0}, role.Engineer, 0, 5))
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "same", results[0].Content)
		assert.Equal(t, "orthogonal", results[1].Content)
		assert.InDelta(t, 0.0, results[1].Similarity, 1e-6)
	})

	t.Run("threshold equal to an inexact cosine is inclusive", func(t *testing.T) {
		for _, tc := range boundaryCases {
			t.Run(tc.name, func(t *testing.T) {
				s := open(t, len(tc.query))
				ctx := context.Background()
				require.NoError(t, s.Replace(ctx, []models.Document{
					doc("boundary", tc.doc, role.Public),
				}))

				results, err := s.Match(ctx, query(tc.query, role.Public, tc.cosine, 5))
				require.NoError(t, err)
				require.Len(t, results, 1)
				assert.InDelta(t, tc.cosine, results[0].Similarity, 1e-5)

				results, err = s.Match(ctx, query(tc.query, role.Public, tc.cosine+1e-4, 5))
				require.NoError(t, err)
				assert.Empty(t, results)
			})
		}
	})

	t.Run("ties ordered by insertion and repeatable", func(t *testing.T) {
		s := open(t, 2)
		ctx := context.Background()
		require.NoError(t, s.Replace(ctx, []models.Document{
			doc("first", []float32{0.5, 0.5}, role.Intern),
			doc("second", []float32{0.5, 0.5}, role.Intern),
			doc("third", []float32{0.5, 0.5}, role.Intern),
		}))

		q := query([]float32{1, 1}, role.Intern, 0.5, 5)
		first, err := s.Match(ctx, q)
		require.NoError(t, err)
		second, err := s.Match(ctx, q)
		require.NoError(t, err)

		require.Len(t, first, 3)
		assert.Equal(t, []string{"first", "second", "third"}, contents(first))
		assert.Equal(t, first, second)
		assert.Less(t, first[0].ID, first[1].ID)
	})

	t.Run("no authorized match is an empty result", func(t *testing.T) {
		s := open(t, 2)
		ctx := context.Background()
		require.NoError(t, s.Replace(ctx, []models.Document{
			doc("engineering", []float32{1, 0}, role.Engineer),
			doc("hr", []float32{0, 1}, role.HR),
		}))

		results, err := s.Match(ctx, query([]float32{1, 0}, role.Public, 0.5, 5))
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("replace is wholesale", func(t *testing.T) {
		s := open(t, 2)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, []models.Document{doc("old", []float32{1, 0}, role.HR)}))
		require.NoError(t, s.Replace(ctx, []models.Document{doc("new", []float32{1, 0}, role.HR)}))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		results, err := s.Match(ctx, query([]float32{1, 0}, role.HR, 0.5, 5))
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, contents(results))

		require.NoError(t, s.Clear(ctx))
		n, err = s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("metadata and roles round trip", func(t *testing.T) {
		s := open(t, 2)
		ctx := context.Background()
		d := doc("handbook", []float32{1, 0}, role.HR, role.Engineer, role.HR)
		d.Metadata = map[string]interface{}{"source": "employee_handbook.txt"}
		require.NoError(t, s.Insert(ctx, []models.Document{d}))

		results, err := s.Match(ctx, query([]float32{1, 0}, role.Engineer, 0.5, 5))
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "employee_handbook.txt", results[0].Source())
		assert.ElementsMatch(t, []role.Role{role.HR, role.Engineer}, results[0].AllowedRoles)
	})

	t.Run("write-side invariants", func(t *testing.T) {
		s := open(t, 2)
		ctx := context.Background()

		err := s.Insert(ctx, []models.Document{doc("nobody", []float32{1, 0})})
		assert.ErrorIs(t, err, errs.ErrInvalidDocument)

		err = s.Insert(ctx, []models.Document{doc("bad role", []float32{1, 0}, role.Role("admin"))})
		assert.ErrorIs(t, err, errs.ErrInvalidDocument)

		err = s.Insert(ctx, []models.Document{doc("short", []float32{1}, role.HR)})
		assert.ErrorIs(t, err, errs.ErrDimensionMismatch)

		err = s.Insert(ctx, []models.Document{doc("zero", []float32{0, 0}, role.HR)})
		assert.ErrorIs(t, err, errs.ErrInvalidDocument)

		err = s.Replace(ctx, []models.Document{
			doc("fine", []float32{1, 0}, role.HR),
			doc("", []float32{1, 0}, role.HR),
		})
		assert.ErrorIs(t, err, errs.ErrInvalidDocument)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("query invariants", func(t *testing.T) {
		s := open(t, 2)
		ctx := context.Background()

		_, err := s.Match(ctx, query([]float32{1, 0, 0}, role.HR, 0.5, 5))
		assert.ErrorIs(t, err, errs.ErrDimensionMismatch)

		_, err = s.Match(ctx, query([]float32{1, 0}, role.Role("Public"), 0.5, 5))
		assert.ErrorIs(t, err, errs.ErrInvalidRole)

		_, err = s.Match(ctx, query([]float32{1, 0}, role.HR, 0.5, 0))
		assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	})
}

// boundaryCases pair vectors whose cosine is not exactly representable in
// float32 arithmetic.
var boundaryCases = []struct {
	name   string
	doc    []float32
	query  []float32
	cosine float64
}{
	{"three four five", []float32{3, 4}, []float32{5, 0}, 0.6},
	{"five twelve thirteen", []float32{5, 12}, []float32{13, 0}, 5.0 / 13},
	{"one third", []float32{1, 2, 2}, []float32{1, 0, 0}, 1.0 / 3},
	{"diagonal", []float32{1, 1}, []float32{1, 0}, math.Sqrt2 / 2},
}

func doc(content string, embedding []float32, roles ...role.Role) models.Document {
	return models.Document{
		Content:      content,
		Metadata:     map[string]interface{}{"source": content + ".txt"},
		AllowedRoles: roles,
		Embedding:    embedding,
	}
}

func query(embedding []float32, r role.Role, threshold float64, limit int) types.MatchQuery {
	return types.MatchQuery{Embedding: embedding, Role: r, Threshold: threshold, Limit: limit}
}

func contents(results []models.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Content
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T, dim int) types.DocumentStore {
		return NewMemory(dim)
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T, dim int) types.DocumentStore {
		s, err := NewSQLite(context.Background(), t.TempDir()+"/documents.db", dim, nil)
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T, dim int) types.DocumentStore {
		return getTestPostgres(t, dim)
	})
}

func TestSQLiteRejectsDimensionChange(t *testing.T) {
	path := t.TempDir() + "/documents.db"
	s, err := NewSQLite(context.Background(), path, 3, nil)
	require.NoError(t, err)
	s.Close()

	_, err = NewSQLite(context.Background(), path, 4, nil)
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 1}, []float32{-1, -1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
