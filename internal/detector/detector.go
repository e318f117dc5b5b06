// Package detector adapts external feature detectors to descriptor sets.
package detector

import (
	"context"

	"github.com/kozaktomas/featmatch/internal/feature"
)

// Detector extracts the descriptor set of one image. Failures wrap
// feature.ErrDetectionFailure.
type Detector interface {
	Detect(ctx context.Context, image string) (*feature.DescriptorSet, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, image string) (*feature.DescriptorSet, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, image string) (*feature.DescriptorSet, error) {
	return f(ctx, image)
}
