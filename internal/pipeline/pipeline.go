// Package pipeline answers match-count queries for image pairs, consulting
// the match result cache before loading descriptors, building the neighbor
// index and running the ratio test.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/featmatch/internal/descriptors"
	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/index"
	"github.com/kozaktomas/featmatch/internal/logging"
	"github.com/kozaktomas/featmatch/internal/matcher"
	"github.com/kozaktomas/featmatch/internal/results"
)

// Progress receives matching progress. Start is called once with the number
// of descriptors to evaluate; Step may be called concurrently.
type Progress interface {
	Start(total int)
	Step()
}

// Request is one match-count query.
type Request struct {
	ImageA   string
	ImageB   string
	Params   feature.Params
	Progress Progress
}

// Outcome is the answer to a Request.
type Outcome struct {
	Key   feature.QueryKey `json:"key"`
	Count int              `json:"count"`
	// Cached is set when the count came from the result cache.
	Cached bool `json:"cached"`
	// Degraded is set when the result cache could not be used.
	Degraded bool `json:"degraded,omitempty"`
	// Matches holds the forward matches of a computed result; empty on a
	// cache hit.
	Matches []feature.Match `json:"matches,omitempty"`
	RunID   string          `json:"run_id"`
	Elapsed time.Duration   `json:"elapsed"`
}

// Pipeline sequences the caches, the index and the matcher. A nil results
// store disables result caching.
type Pipeline struct {
	descriptors *descriptors.Cache
	results     results.Store
	builder     index.Builder
	workers     int
	logger      *logging.Logger

	group singleflight.Group
}

func New(desc *descriptors.Cache, res results.Store, builder index.Builder, workers int, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{
		descriptors: desc,
		results:     res,
		builder:     builder,
		workers:     workers,
		logger:      logger,
	}
}

// Count returns the number of confident matches from req.ImageA into
// req.ImageB. Concurrent requests for the same key share one computation.
// A cancelled or failed computation stores nothing.
func (p *Pipeline) Count(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	key, err := feature.NewQueryKey(req.ImageA, req.ImageB, req.Params)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := p.logger.WithRun(runID)
	ctx = logging.NewContext(ctx, log)

	cacheUsable := p.results != nil
	degraded := false
	if cacheUsable {
		count, ok, err := p.results.Lookup(ctx, key)
		log.LogLookup(ctx, key.String(), count, ok, err)
		switch {
		case err == nil && ok:
			return &Outcome{Key: key, Count: count, Cached: true, RunID: runID, Elapsed: time.Since(start)}, nil
		case err == nil:
		case errors.Is(err, feature.ErrCacheUnavailable):
			cacheUsable, degraded = false, true
		default:
			return nil, err
		}
	}

	var c computed
	for {
		led := false
		ch := p.group.DoChan(key.Hash(), func() (any, error) {
			led = true
			return p.compute(ctx, log, key, req.Progress, cacheUsable)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			// The caller that owned the shared run went away; run it again
			// under this caller's context.
			if !led && abandoned(res.Err) && ctx.Err() == nil {
				continue
			}
			return nil, res.Err
		}
		c = res.Val.(computed)
		break
	}

	elapsed := time.Since(start)
	log.InfoContext(ctx, "total", "key", key.String(), "count", c.result.Count, "elapsed", elapsed)
	return &Outcome{
		Key:      key,
		Count:    c.result.Count,
		Degraded: degraded || c.storeFailed,
		Matches:  c.result.Matches,
		RunID:    runID,
		Elapsed:  elapsed,
	}, nil
}

type computed struct {
	result      *matcher.Result
	storeFailed bool
}

func (p *Pipeline) compute(ctx context.Context, log *logging.Logger, key feature.QueryKey, progress Progress, store bool) (computed, error) {
	var setA, setB *feature.DescriptorSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		setA, err = p.descriptors.LoadOrCompute(gctx, key.ImageA)
		return err
	})
	g.Go(func() error {
		var err error
		setB, err = p.descriptors.LoadOrCompute(gctx, key.ImageB)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return computed{}, ctxErr
		}
		return computed{}, err
	}

	res, err := p.match(ctx, log, setA, setB, key.Params(), progress)
	if err != nil {
		return computed{}, err
	}

	out := computed{result: res}
	if !store {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return computed{}, err
	}
	if err := p.results.Store(ctx, key, res.Count); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return computed{}, ctxErr
		}
		if !errors.Is(err, feature.ErrCacheUnavailable) {
			return computed{}, err
		}
		log.WarnContext(ctx, "result cache unavailable, result not stored", "key", key.String(), "error", err)
		out.storeFailed = true
	}
	return out, nil
}

func (p *Pipeline) match(ctx context.Context, log *logging.Logger, setA, setB *feature.DescriptorSet, params feature.Params, progress Progress) (*matcher.Result, error) {
	log.InfoContext(ctx, "building index", "image", setB.Image, "descriptors", setB.Len())
	idx, err := p.builder.Build(setB)
	if errors.Is(err, feature.ErrIndexBuild) {
		log.InfoContext(ctx, "no index for image, no matches possible", "image", setB.Image, "reason", err)
		return &matcher.Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("building index for %s: %w", setB.Image, err)
	}

	log.InfoContext(ctx, "finding matches", "image", setA.Image, "descriptors", setA.Len())
	m := matcher.New(params)
	m.Workers = p.workers
	if progress != nil {
		progress.Start(setA.Len())
		m.OnProgress = progress.Step
	}
	res, err := m.Match(ctx, setA, idx)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func abandoned(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
