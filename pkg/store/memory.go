package store

import (
	"context"
	"sort"
	"sync"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/role"
)

// Memory is an in-process DocumentStore. Match runs under a single read lock,
// so a concurrent Replace is observed either entirely or not at all.
type Memory struct {
	mu     sync.RWMutex
	dim    int
	nextID int64
	docs   []models.Document
}

// NewMemory creates an empty store for vectors of length dim.
func NewMemory(dim int) *Memory {
	return &Memory{dim: dim, nextID: 1}
}

func (m *Memory) Dimension() int {
	return m.dim
}

func (m *Memory) Insert(ctx context.Context, docs []models.Document) error {
	if err := checkDocuments(docs, m.dim); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(docs)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = nil
	return nil
}

func (m *Memory) Replace(ctx context.Context, docs []models.Document) error {
	if err := checkDocuments(docs, m.dim); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = nil
	m.appendLocked(docs)
	return nil
}

func (m *Memory) appendLocked(docs []models.Document) {
	for _, doc := range docs {
		stored := models.Document{
			ID:           m.nextID,
			Content:      sanitizeUTF8(doc.Content),
			Metadata:     copyMetadata(doc.Metadata),
			AllowedRoles: dedupeRoles(doc.AllowedRoles),
			Embedding:    append([]float32(nil), doc.Embedding...),
		}
		m.nextID++
		m.docs = append(m.docs, stored)
	}
}

func (m *Memory) Match(ctx context.Context, q types.MatchQuery) ([]models.SearchResult, error) {
	if err := checkQuery(q, m.dim); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]models.SearchResult, 0)
	for _, doc := range m.docs {
		if !role.Contains(doc.AllowedRoles, q.Role) {
			continue
		}
		similarity := CosineSimilarity(q.Embedding, doc.Embedding)
		if similarity < q.Threshold-types.SimilarityTolerance {
			continue
		}
		results = append(results, models.SearchResult{
			Document: models.Document{
				ID:           doc.ID,
				Content:      doc.Content,
				Metadata:     copyMetadata(doc.Metadata),
				AllowedRoles: append([]role.Role(nil), doc.AllowedRoles...),
			},
			Similarity: similarity,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

func (m *Memory) Close() {}

func copyMetadata(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
