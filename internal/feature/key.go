package feature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Default matcher parameters.
const (
	DefaultMaxNNChecks    = 100
	DefaultRatioThreshold = 0.65
)

// Params governs a neighbor search and its acceptance rule.
type Params struct {
	// MaxNNChecks bounds the work spent per approximate neighbor query.
	MaxNNChecks int `json:"max_nn_checks" yaml:"max_nn_checks"`
	// RatioThreshold is compared directly against dist0/dist1 of squared distances.
	RatioThreshold float64 `json:"ratio_threshold" yaml:"ratio_threshold"`
}

// DefaultParams returns the parameters the tool ships with.
func DefaultParams() Params {
	return Params{MaxNNChecks: DefaultMaxNNChecks, RatioThreshold: DefaultRatioThreshold}
}

// Validate rejects budgets and thresholds the matcher cannot use.
func (p Params) Validate() error {
	if p.MaxNNChecks <= 0 {
		return fmt.Errorf("%w: max nn checks must be positive, got %d", ErrInvalidInput, p.MaxNNChecks)
	}
	if math.IsNaN(p.RatioThreshold) || p.RatioThreshold <= 0 || p.RatioThreshold > 1 {
		return fmt.Errorf("%w: ratio threshold must be in (0, 1], got %v", ErrInvalidInput, p.RatioThreshold)
	}
	return nil
}

// QueryKey identifies one match computation. Two keys are equal iff all four
// fields are identical, so it is comparable and usable as a map key.
type QueryKey struct {
	ImageA         string  `json:"image_a"`
	ImageB         string  `json:"image_b"`
	MaxNNChecks    int     `json:"max_nn_checks"`
	RatioThreshold float64 `json:"ratio_threshold"`
}

// NewQueryKey normalizes both identities and validates the parameters.
func NewQueryKey(imageA, imageB string, p Params) (QueryKey, error) {
	a, err := NormalizeIdentity(imageA)
	if err != nil {
		return QueryKey{}, err
	}
	b, err := NormalizeIdentity(imageB)
	if err != nil {
		return QueryKey{}, err
	}
	if err := p.Validate(); err != nil {
		return QueryKey{}, err
	}
	return QueryKey{ImageA: a, ImageB: b, MaxNNChecks: p.MaxNNChecks, RatioThreshold: p.RatioThreshold}, nil
}

// Params returns the search parameters carried by the key.
func (k QueryKey) Params() Params {
	return Params{MaxNNChecks: k.MaxNNChecks, RatioThreshold: k.RatioThreshold}
}

// RatioText renders the threshold in its shortest exact decimal form.
func (k QueryKey) RatioText() string {
	return FormatRatio(k.RatioThreshold)
}

// FormatRatio renders a threshold so that ParseRatio returns the same bits.
func FormatRatio(r float64) string {
	return strconv.FormatFloat(r, 'g', -1, 64)
}

// ParseRatio is the inverse of FormatRatio.
func ParseRatio(s string) (float64, error) {
	r, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ratio %q: %v", ErrCorruptCacheEntry, s, err)
	}
	return r, nil
}

// String is the canonical, unambiguous text form of the key.
func (k QueryKey) String() string {
	var b strings.Builder
	b.WriteString(strconv.Quote(k.ImageA))
	b.WriteByte(' ')
	b.WriteString(strconv.Quote(k.ImageB))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(k.MaxNNChecks))
	b.WriteByte(' ')
	b.WriteString(k.RatioText())
	return b.String()
}

// Hash is the hex SHA-256 of String, used as the storage primary key.
func (k QueryKey) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}
