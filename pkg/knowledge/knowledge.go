// Package knowledge defines the contract of the knowledge backend, the store
// of indexed chunks queried by the search and grounding tools, and provides
// an Azure AI Search implementation of it.
package knowledge

import (
	"context"
	"iter"

	"github.com/cockroachdb/errors"
)

//go:generate mockgen -source=knowledge.go -destination=../../mocks/mockknowledge/knowledge_mock.gen.go -package mockknowledge

// Hybrid query parameters.
const (
	// NearestNeighbors is the number of neighbors requested from the vector search.
	NearestNeighbors = 50
	// MaxResults caps the number of results of a hybrid query.
	MaxResults = 5
)

// ErrEmptyVector is returned for a vector query without a vector.
var ErrEmptyVector = errors.New("vector query has no vector")

// Chunk is an indexed unit of knowledge base content.
type Chunk struct {
	// ID is the chunk identifier serialized as a string.
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// VectorQuery is the vector similarity component of a query.
type VectorQuery struct {
	Vector []float32
	// K is the number of nearest neighbors.
	K int
	// Field overrides the vector field of the index.
	Field string
}

// Query describes a backend query: a hybrid query with a vector component
// and semantic re-ranking, or a filtered query without a vector.
type Query struct {
	Vector *VectorQuery
	// Semantic enables semantic re-ranking.
	Semantic bool
	// Top caps the number of results, zero means backend default paging.
	Top int
	// Filter is a boolean filter expression in the backend's filter language.
	// It must be built only from validated values.
	Filter string
}

// Kind returns "hybrid" for queries with a vector component and "filter" otherwise.
func (q *Query) Kind() string {
	if q.Vector != nil {
		return "hybrid"
	}
	return "filter"
}

// Validate checks the query is executable.
func (q *Query) Validate() error {
	if q.Vector != nil && len(q.Vector.Vector) == 0 {
		return ErrEmptyVector
	}
	if q.Vector == nil && q.Filter == "" {
		return errors.New("query has neither a vector nor a filter")
	}
	if q.Top < 0 {
		return errors.Errorf("invalid top: %d", q.Top)
	}
	return nil
}

// HybridQuery returns the query used by the search tool:
// 50 nearest neighbors on the content vector, semantic re-ranking,
// at most 5 results.
func HybridQuery(vector []float32) *Query {
	return &Query{
		Vector: &VectorQuery{
			Vector: vector,
			K:      NearestNeighbors,
		},
		Semantic: true,
		Top:      MaxResults,
	}
}

// FilterQuery returns a query selecting chunks by filter only.
func FilterQuery(filter string) *Query {
	return &Query{Filter: filter}
}

// Backend is the knowledge store. Implementations are safe for concurrent use.
type Backend interface {
	// Search runs the query and returns the lazily produced sequence of chunks
	// in backend relevance order. Pages are fetched while the sequence is
	// consumed; an error ends the sequence.
	Search(ctx context.Context, q *Query) iter.Seq2[*Chunk, error]
}

// Collect drains the sequence.
func Collect(seq iter.Seq2[*Chunk, error]) ([]*Chunk, error) {
	var list []*Chunk
	for chunk, err := range seq {
		if err != nil {
			return nil, err
		}
		list = append(list, chunk)
	}
	return list, nil
}

// FromSlice returns a sequence over the chunks, ended by err when not nil.
func FromSlice(chunks []*Chunk, err error) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}
