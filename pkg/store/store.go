// Package store implements the document store backends. Every backend executes
// the role filter and the similarity ranking as a single operation: one SQL
// statement for Postgres and SQLite, one read-locked pass for Memory.
package store

import (
	"math"
	"unicode/utf8"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/role"
)

var (
	_ types.DocumentStore = (*Postgres)(nil)
	_ types.DocumentStore = (*SQLite)(nil)
	_ types.DocumentStore = (*Memory)(nil)
)

// checkDocuments enforces the write-side invariants shared by all backends.
func checkDocuments(docs []models.Document, dim int) error {
	for i, doc := range docs {
		if doc.Content == "" {
			return errs.New(errs.CodeInvalidDocument, "content must not be empty", errs.Field("index", i))
		}
		if len(doc.AllowedRoles) == 0 {
			return errs.New(errs.CodeInvalidDocument, "allowed_roles must not be empty", errs.Field("index", i))
		}
		for _, r := range doc.AllowedRoles {
			if !r.IsValid() {
				return errs.New(errs.CodeInvalidDocument, "allowed_roles contains an unrecognized role",
					errs.Field("index", i))
			}
		}
		if len(doc.Embedding) != dim {
			return errs.New(errs.CodeDimensionMismatch, "document embedding has wrong dimension",
				errs.Field("index", i), errs.Field("want", dim), errs.Field("got", len(doc.Embedding)))
		}
		if vectorNorm(doc.Embedding) == 0 {
			return errs.New(errs.CodeInvalidDocument, "embedding must not be the zero vector", errs.Field("index", i))
		}
	}
	return nil
}

func checkQuery(q types.MatchQuery, dim int) error {
	if len(q.Embedding) != dim {
		return errs.New(errs.CodeDimensionMismatch, "query embedding has wrong dimension",
			errs.Field("want", dim), errs.Field("got", len(q.Embedding)))
	}
	if !q.Role.IsValid() {
		return errs.New(errs.CodeInvalidRole, "unrecognized role")
	}
	if q.Limit < 1 {
		return errs.New(errs.CodeInvalidArgument, "limit must be at least 1")
	}
	if math.IsNaN(q.Threshold) || math.IsInf(q.Threshold, 0) {
		return errs.New(errs.CodeInvalidArgument, "threshold must be finite")
	}
	return nil
}

// dedupeRoles collapses repeated roles, keeping first-seen order.
func dedupeRoles(set []role.Role) []role.Role {
	out := make([]role.Role, 0, len(set))
	for _, r := range set {
		if !role.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// rolesFromStrings converts stored role names without validating them; the
// search service treats unknown names as an integrity failure.
func rolesFromStrings(names []string) []role.Role {
	out := make([]role.Role, len(names))
	for i, n := range names {
		out[i] = role.Role(n)
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b. Callers
// guarantee equal length and non-zero norms.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
