// Package vectorindex is an append-only, exact nearest-neighbor index over
// fixed-dimension embedding vectors. Similarity is the raw inner product;
// vectors are never normalized, so score magnitude depends on their norms.
package vectorindex

import (
	"fmt"
	"slices"

	"agent-market/internal/domain"
)

// Hit is one search result: the row position of a stored vector and its
// inner product with the query.
type Hit struct {
	Row   int
	Score float32
}

// Index holds vectors in insertion order. Row i is the i-th successful Add.
// Index is not safe for concurrent mutation; callers serialize writers.
type Index struct {
	dim     int
	vectors [][]float32
}

// New creates an empty index of the given dimension.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: index dimension must be > 0, got %d", domain.ErrInvalidInput, dim)
	}
	return &Index{dim: dim}, nil
}

// Dimension returns the fixed vector length.
func (idx *Index) Dimension() int { return idx.dim }

// Len returns the number of stored rows.
func (idx *Index) Len() int { return len(idx.vectors) }

// Add appends vec and returns its row position.
func (idx *Index) Add(vec []float32) (int, error) {
	if len(vec) != idx.dim {
		return 0, fmt.Errorf("%w: add got %d, index has %d", domain.ErrDimensionMismatch, len(vec), idx.dim)
	}
	row := len(idx.vectors)
	idx.vectors = append(idx.vectors, slices.Clone(vec))
	return row, nil
}

// Vector returns a copy of the vector stored at row.
func (idx *Index) Vector(row int) ([]float32, bool) {
	if row < 0 || row >= len(idx.vectors) {
		return nil, false
	}
	return slices.Clone(idx.vectors[row]), true
}

// Search returns at most min(k, Len()) hits ordered by descending score,
// ties broken by ascending row.
func (idx *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query got %d, index has %d", domain.ErrDimensionMismatch, len(query), idx.dim)
	}
	if k <= 0 || len(idx.vectors) == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, len(idx.vectors))
	for row, v := range idx.vectors {
		hits[row] = Hit{Row: row, Score: dot(query, v)}
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return a.Row - b.Row
		}
	})
	return hits[:min(k, len(hits))], nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
