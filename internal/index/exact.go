package index

import (
	"fmt"

	"github.com/kozaktomas/featmatch/internal/feature"
)

// ExactBuilder builds brute-force indexes.
type ExactBuilder struct{}

// Build copies the vectors of set into a new Exact index.
func (ExactBuilder) Build(set *feature.DescriptorSet) (Index, error) {
	if err := checkBuildInput(set); err != nil {
		return nil, err
	}
	return &Exact{vecs: set.Vectors(), dim: set.Dim()}, nil
}

// Exact scans every vector on each query. It ignores the effort budget.
type Exact struct {
	vecs [][]float32
	dim  int
}

// Search returns the k nearest vectors.
func (e *Exact) Search(query []float32, k, _ int) ([]Neighbor, error) {
	if len(query) != e.dim {
		return nil, fmt.Errorf("exact: query dim %d != index dim %d", len(query), e.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	all := make([]Neighbor, len(e.vecs))
	for i, v := range e.vecs {
		all[i] = Neighbor{ID: i, DistSq: feature.SquaredDistance(query, v)}
	}
	sortNeighbors(all)
	if k > len(all) {
		k = len(all)
	}
	return all[:k], nil
}

// Len returns the number of indexed vectors.
func (e *Exact) Len() int { return len(e.vecs) }
