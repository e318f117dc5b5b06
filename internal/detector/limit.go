package detector

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/kozaktomas/featmatch/internal/feature"
)

// Limited bounds how many detections run at once.
type Limited struct {
	next Detector
	sem  *semaphore.Weighted
}

// Limit wraps det so that at most n detections run concurrently. n <= 0
// returns det unchanged.
func Limit(det Detector, n int) Detector {
	if n <= 0 {
		return det
	}
	return &Limited{next: det, sem: semaphore.NewWeighted(int64(n))}
}

// Detect waits for a free slot, honoring ctx, then delegates.
func (l *Limited) Detect(ctx context.Context, image string) (*feature.DescriptorSet, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.next.Detect(ctx, image)
}
