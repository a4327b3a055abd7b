package models

import "github.com/xhad/rolerag/pkg/role"

// Document is a unit of retrievable knowledge with its access-control list.
// ID is assigned by the store in insertion order.
type Document struct {
	ID           int64
	Content      string
	Metadata     map[string]interface{}
	AllowedRoles []role.Role
	Embedding    []float32
}

// Source returns the provenance label, "unknown" when absent.
func (d Document) Source() string {
	if src, ok := d.Metadata["source"].(string); ok && src != "" {
		return src
	}
	return "unknown"
}

// SearchResult is an authorized match and its cosine similarity to the query.
type SearchResult struct {
	Document
	Similarity float64
}
