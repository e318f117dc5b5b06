package index

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/featmatch/internal/feature"
)

// HNSW graph parameters.
const (
	// DefaultMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	DefaultMaxNeighbors = 16

	// DefaultSeed drives level assignment. A fixed seed makes the graph, and
	// therefore every approximate search, reproducible for the same input.
	DefaultSeed = 1
)

// HNSWBuilder builds HNSW graphs with Euclidean distance.
type HNSWBuilder struct {
	MaxNeighbors int
	Seed         int64
}

// Build inserts every descriptor of set, keyed by its position.
func (b HNSWBuilder) Build(set *feature.DescriptorSet) (Index, error) {
	if err := checkBuildInput(set); err != nil {
		return nil, err
	}

	m := b.MaxNeighbors
	if m <= 0 {
		m = DefaultMaxNeighbors
	}
	seed := b.Seed
	if seed == 0 {
		seed = DefaultSeed
	}

	g := hnsw.NewGraph[int]()
	g.M = m
	g.Ml = 1.0 / float64(m) // Standard HNSW formula
	g.Distance = hnsw.EuclideanDistance
	g.Rng = rand.New(rand.NewSource(seed)) //nolint:gosec // reproducibility, not security

	nodes := make([]hnsw.Node[int], set.Len())
	for i := range set.Descriptors {
		nodes[i] = hnsw.MakeNode(i, set.Descriptors[i].Vector)
	}
	g.Add(nodes...)

	return &HNSW{graph: g, dim: set.Dim(), count: set.Len()}, nil
}

// HNSW wraps an immutable HNSW graph. Queries run concurrently; only a change
// of effort budget takes the write lock.
type HNSW struct {
	graph *hnsw.Graph[int]
	dim   int
	count int
	mu    sync.RWMutex
}

// Search finds the k approximate nearest neighbors. effort is used as the
// graph's search candidate pool size (ef), never below k.
func (h *HNSW) Search(query []float32, k, effort int) ([]Neighbor, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("hnsw: query dim %d != index dim %d", len(query), h.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	ef := max(effort, k)

	for {
		h.mu.RLock()
		if h.graph.EfSearch == ef {
			nodes := h.graph.Search(query, k)
			h.mu.RUnlock()
			return toNeighbors(query, nodes), nil
		}
		h.mu.RUnlock()

		h.mu.Lock()
		h.graph.EfSearch = ef
		h.mu.Unlock()
	}
}

// Len returns the number of indexed descriptors.
func (h *HNSW) Len() int { return h.count }

func toNeighbors(query []float32, nodes []hnsw.Node[int]) []Neighbor {
	out := make([]Neighbor, len(nodes))
	for i, n := range nodes {
		// Distances are recomputed from the stored vector so that the ratio
		// test sees exact squared distances rather than the graph's metric.
		out[i] = Neighbor{ID: n.Key, DistSq: feature.SquaredDistance(query, n.Value)}
	}
	sortNeighbors(out)
	return out
}
