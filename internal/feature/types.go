// Package feature holds the descriptor data model shared by detection,
// caching and matching.
package feature

import (
	"fmt"
	"math"
)

// Descriptor is one local feature: its appearance vector plus where it was found.
type Descriptor struct {
	Vector      []float32 `json:"vector"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Scale       float64   `json:"scale"`
	Orientation float64   `json:"orientation"`
}

// DescriptorSet is the ordered output of one detection run over one image.
type DescriptorSet struct {
	Image       string       `json:"image"`
	Width       int          `json:"width,omitempty"`
	Height      int          `json:"height,omitempty"`
	Descriptors []Descriptor `json:"descriptors"`
}

// Len returns the number of descriptors in the set.
func (s *DescriptorSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Descriptors)
}

// Dim returns the vector length, or 0 for an empty set.
func (s *DescriptorSet) Dim() int {
	if s.Len() == 0 {
		return 0
	}
	return len(s.Descriptors[0].Vector)
}

// Vectors returns the descriptor vectors in set order. The slices are shared.
func (s *DescriptorSet) Vectors() [][]float32 {
	out := make([][]float32, s.Len())
	for i := range out {
		out[i] = s.Descriptors[i].Vector
	}
	return out
}

// Validate checks that every descriptor has the same non-zero dimension.
func (s *DescriptorSet) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil descriptor set", ErrInvalidInput)
	}
	dim := s.Dim()
	for i := range s.Descriptors {
		if n := len(s.Descriptors[i].Vector); n == 0 || n != dim {
			return fmt.Errorf("%w: descriptor %d has dimension %d, want %d", ErrInvalidInput, i, n, dim)
		}
	}
	return nil
}

// Equal reports whether two sets have the same image, count, order, locations
// and bit-identical vectors.
func (s *DescriptorSet) Equal(o *DescriptorSet) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Image != o.Image || s.Width != o.Width || s.Height != o.Height || len(s.Descriptors) != len(o.Descriptors) {
		return false
	}
	for i := range s.Descriptors {
		a, b := &s.Descriptors[i], &o.Descriptors[i]
		if a.X != b.X || a.Y != b.Y || a.Scale != b.Scale || a.Orientation != b.Orientation {
			return false
		}
		if len(a.Vector) != len(b.Vector) {
			return false
		}
		for j := range a.Vector {
			if math.Float32bits(a.Vector[j]) != math.Float32bits(b.Vector[j]) {
				return false
			}
		}
	}
	return true
}

// Match is a forward association from descriptor Query in image A to
// descriptor Neighbor in image B.
type Match struct {
	Query    int     `json:"query"`
	Neighbor int     `json:"neighbor"`
	DistSq   float64 `json:"dist_sq"`
}

// SquaredDistance returns the squared Euclidean distance between two vectors
// of equal length.
func SquaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
