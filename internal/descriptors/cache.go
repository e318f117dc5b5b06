// Package descriptors memoizes detector output per image identity.
package descriptors

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/featmatch/internal/detector"
	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/logging"
)

// Stats counts how descriptor sets were obtained.
type Stats struct {
	Loaded   int64
	Detected int64
}

// Cache returns the descriptor set of an image, running the detector only
// when no persisted set exists. A nil store disables persistence. Returned
// sets are shared and must not be modified.
type Cache struct {
	store    Store
	detector detector.Detector
	logger   *logging.Logger

	group    singleflight.Group
	loaded   atomic.Int64
	detected atomic.Int64
}

func NewCache(store Store, det detector.Detector, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cache{store: store, detector: det, logger: logger}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{Loaded: c.loaded.Load(), Detected: c.detected.Load()}
}

// LoadOrCompute returns the persisted set for image or detects and persists
// it. Concurrent calls for the same image share one load or detection. The
// shared work runs under the context of the caller that started it; when
// that caller gives up, the remaining callers start over under their own.
func (c *Cache) LoadOrCompute(ctx context.Context, image string) (*feature.DescriptorSet, error) {
	id, err := feature.NormalizeIdentity(image)
	if err != nil {
		return nil, err
	}

	for {
		led := false
		ch := c.group.DoChan(id, func() (any, error) {
			led = true
			return c.loadOrCompute(ctx, id)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				if !led && abandoned(res.Err) && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*feature.DescriptorSet), nil
		}
	}
}

// abandoned reports whether err only says that the caller owning a shared
// computation went away.
func abandoned(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Cache) loadOrCompute(ctx context.Context, id string) (*feature.DescriptorSet, error) {
	log := logging.FromContext(ctx, c.logger).WithImage(id)
	if c.store != nil {
		set, err := c.store.Load(ctx, id)
		switch {
		case err == nil && set.Image == id:
			c.loaded.Add(1)
			log.LogDescriptors(ctx, set.Len(), false, nil)
			return set, nil
		case err == nil:
			log.WarnContext(ctx, "descriptor entry belongs to another image, recomputing",
				"stored_image", set.Image)
		case errors.Is(err, feature.ErrNotFound):
		case errors.Is(err, feature.ErrCacheUnavailable):
			log.WarnContext(ctx, "descriptor store unavailable, detecting without cache", "error", err)
		default:
			log.LogDescriptors(ctx, 0, false, err)
			return nil, err
		}
	}

	log.InfoContext(ctx, "detecting descriptors")
	set, err := c.detector.Detect(ctx, id)
	if err != nil {
		log.LogDescriptors(ctx, 0, true, err)
		if errors.Is(err, feature.ErrDetectionFailure) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", feature.ErrDetectionFailure, id, err)
	}
	if set == nil {
		return nil, fmt.Errorf("%w: detector returned no descriptor set for %s", feature.ErrDetectionFailure, id)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", feature.ErrDetectionFailure, id, err)
	}
	set.Image = id
	c.detected.Add(1)
	log.LogDescriptors(ctx, set.Len(), true, nil)

	if c.store != nil {
		log.DebugContext(ctx, "saving descriptors")
		if err := c.store.Save(ctx, set); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WarnContext(ctx, "failed to persist descriptors", "error", err)
		}
	}
	return set, nil
}
