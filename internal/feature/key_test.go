package feature

import (
	"errors"
	"testing"
)

func TestNewQueryKey_ParameterSensitivity(t *testing.T) {
	base, err := NewQueryKey("a.jpg", "b.jpg", DefaultParams())
	if err != nil {
		t.Fatalf("NewQueryKey: %v", err)
	}

	tests := []struct {
		name   string
		a, b   string
		params Params
	}{
		{"different ratio", "a.jpg", "b.jpg", Params{MaxNNChecks: 100, RatioThreshold: 0.8}},
		{"different budget", "a.jpg", "b.jpg", Params{MaxNNChecks: 200, RatioThreshold: 0.65}},
		{"swapped images", "b.jpg", "a.jpg", DefaultParams()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other, err := NewQueryKey(tt.a, tt.b, tt.params)
			if err != nil {
				t.Fatalf("NewQueryKey: %v", err)
			}
			if other == base {
				t.Errorf("expected keys to differ: %v vs %v", other, base)
			}
			if other.String() == base.String() {
				t.Errorf("expected canonical strings to differ, both %q", base.String())
			}
			if other.Hash() == base.Hash() {
				t.Error("expected hashes to differ")
			}
		})
	}
}

func TestNewQueryKey_EqualKeys(t *testing.T) {
	k1, err := NewQueryKey("a.jpg", "b.jpg", DefaultParams())
	if err != nil {
		t.Fatalf("NewQueryKey: %v", err)
	}
	k2, err := NewQueryKey("a.jpg", "b.jpg", Params{MaxNNChecks: 100, RatioThreshold: 0.65})
	if err != nil {
		t.Fatalf("NewQueryKey: %v", err)
	}
	if k1 != k2 || k1.Hash() != k2.Hash() {
		t.Errorf("expected identical keys, got %v and %v", k1, k2)
	}
}

func TestNewQueryKey_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		a, b   string
		params Params
	}{
		{"empty image a", "", "b.jpg", DefaultParams()},
		{"blank image b", "a.jpg", "   ", DefaultParams()},
		{"control character", "a\n.jpg", "b.jpg", DefaultParams()},
		{"zero budget", "a.jpg", "b.jpg", Params{MaxNNChecks: 0, RatioThreshold: 0.65}},
		{"zero ratio", "a.jpg", "b.jpg", Params{MaxNNChecks: 100, RatioThreshold: 0}},
		{"ratio above one", "a.jpg", "b.jpg", Params{MaxNNChecks: 100, RatioThreshold: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewQueryKey(tt.a, tt.b, tt.params)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestFormatRatio_RoundTrip(t *testing.T) {
	for _, r := range []float64{0.65, 0.1 + 0.2, 1, 0.8000000000000002} {
		got, err := ParseRatio(FormatRatio(r))
		if err != nil {
			t.Fatalf("ParseRatio(%q): %v", FormatRatio(r), err)
		}
		if got != r {
			t.Errorf("round trip of %v gave %v", r, got)
		}
	}
}

func TestParseRatio_Corrupt(t *testing.T) {
	if _, err := ParseRatio("abc"); !errors.Is(err, ErrCorruptCacheEntry) {
		t.Errorf("expected ErrCorruptCacheEntry, got %v", err)
	}
}
