// Package matcher implements the nearest/second-nearest distance ratio test
// between two descriptor sets.
package matcher

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/index"
	"golang.org/x/sync/errgroup"
)

// neighborsPerQuery is the number of neighbors the ratio test needs.
const neighborsPerQuery = 2

// Result is the outcome of matching one set against an index.
type Result struct {
	// Count is the number of accepted matches.
	Count int
	// Matches holds the accepted forward matches ordered by query position.
	Matches []feature.Match
}

// Matcher runs the ratio test. The zero value uses GOMAXPROCS workers and no
// progress reporting.
type Matcher struct {
	Params feature.Params
	// Workers bounds the number of concurrent neighbor queries.
	Workers int
	// OnProgress, when set, is called once per evaluated descriptor. It may be
	// called from several goroutines at once.
	OnProgress func()
}

// New returns a Matcher for params.
func New(params feature.Params) *Matcher {
	return &Matcher{Params: params}
}

// Accept reports whether a nearest neighbor at squared distance dist0 is
// distinct enough from the runner-up at dist1. Both are squared distances, so
// ratio is applied as is.
func Accept(dist0, dist1, ratio float64) bool {
	return dist0 < ratio*dist1
}

// Match queries idx for the two nearest neighbors of every descriptor in set
// and keeps those passing the ratio test. Descriptors are evaluated in
// parallel; the count does not depend on evaluation order. The context is
// checked between descriptors and a cancelled run returns ctx.Err().
func (m *Matcher) Match(ctx context.Context, set *feature.DescriptorSet, idx index.Index) (*Result, error) {
	if err := m.Params.Validate(); err != nil {
		return nil, err
	}
	n := set.Len()
	if n == 0 || idx == nil || idx.Len() == 0 {
		return &Result{}, nil
	}

	workers := m.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, n)

	var (
		accepted atomic.Int64
		slots    = make([]feature.Match, n)
		hit      = make([]bool, n)
		next     atomic.Int64
		once     sync.Once
		queryErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				match, ok, err := m.matchOne(set.Descriptors[i].Vector, idx)
				if err != nil {
					once.Do(func() { queryErr = fmt.Errorf("descriptor %d: %w", i, err) })
					return queryErr
				}
				if ok {
					match.Query = i
					slots[i] = match
					hit[i] = true
					accepted.Add(1)
				}
				if m.OnProgress != nil {
					m.OnProgress()
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	res := &Result{Count: int(accepted.Load()), Matches: make([]feature.Match, 0, accepted.Load())}
	for i := range slots {
		if hit[i] {
			res.Matches = append(res.Matches, slots[i])
		}
	}
	return res, nil
}

func (m *Matcher) matchOne(vec []float32, idx index.Index) (feature.Match, bool, error) {
	nbrs, err := idx.Search(vec, neighborsPerQuery, m.Params.MaxNNChecks)
	if err != nil {
		return feature.Match{}, false, err
	}
	// Fewer than two neighbors: the neighborhood is ambiguous or empty.
	if len(nbrs) < neighborsPerQuery {
		return feature.Match{}, false, nil
	}
	if !Accept(nbrs[0].DistSq, nbrs[1].DistSq, m.Params.RatioThreshold) {
		return feature.Match{}, false, nil
	}
	return feature.Match{Neighbor: nbrs[0].ID, DistSq: nbrs[0].DistSq}, true, nil
}
