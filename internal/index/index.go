// Package index provides approximate k-nearest-neighbor search over the
// descriptors of one image. An Index is built once and is then safe for
// concurrent read-only queries.
package index

import (
	"fmt"
	"sort"

	"github.com/kozaktomas/featmatch/internal/feature"
)

// Neighbor is one search result: the position of a descriptor in the indexed
// set and its squared Euclidean distance to the query.
type Neighbor struct {
	ID     int
	DistSq float64
}

// Index answers k-NN queries. Results are ordered nearest first and contain
// at most k entries. effort bounds the search work; implementations may
// return approximate neighbors.
type Index interface {
	Search(query []float32, k, effort int) ([]Neighbor, error)
	Len() int
}

// Builder constructs an Index over a descriptor set. Building an index over
// an empty set fails with feature.ErrIndexBuild.
type Builder interface {
	Build(set *feature.DescriptorSet) (Index, error)
}

// Kinds accepted by NewBuilder.
const (
	KindHNSW  = "hnsw"
	KindExact = "exact"
)

// NewBuilder returns the builder named by kind.
func NewBuilder(kind string, maxNeighbors int, seed int64) (Builder, error) {
	switch kind {
	case "", KindHNSW:
		return HNSWBuilder{MaxNeighbors: maxNeighbors, Seed: seed}, nil
	case KindExact:
		return ExactBuilder{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown index kind %q", feature.ErrInvalidInput, kind)
	}
}

func checkBuildInput(set *feature.DescriptorSet) error {
	if set.Len() == 0 {
		return fmt.Errorf("%w: no descriptors to index", feature.ErrIndexBuild)
	}
	if err := set.Validate(); err != nil {
		return fmt.Errorf("%w: %w", feature.ErrIndexBuild, err)
	}
	return nil
}

// sortNeighbors orders by distance, breaking ties by id so results are stable.
func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].DistSq != ns[j].DistSq {
			return ns[i].DistSq < ns[j].DistSq
		}
		return ns[i].ID < ns[j].ID
	})
}
