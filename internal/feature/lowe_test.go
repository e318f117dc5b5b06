package feature

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestLowe_RoundTrip(t *testing.T) {
	vec := make([]float32, 128)
	for i := range vec {
		vec[i] = float32(i % 37)
	}
	set := &DescriptorSet{
		Image: "a.pgm",
		Descriptors: []Descriptor{
			{Vector: vec, X: 12.5, Y: 40.25, Scale: 1.75, Orientation: -0.5},
			{Vector: append([]float32(nil), vec...), X: 1, Y: 2, Scale: 3, Orientation: 0.125},
		},
	}

	var buf bytes.Buffer
	if err := WriteLowe(&buf, set); err != nil {
		t.Fatalf("WriteLowe: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "2 128\n") {
		t.Errorf("unexpected header in %q", buf.String()[:20])
	}

	got, err := ReadLowe(&buf, "a.pgm")
	if err != nil {
		t.Fatalf("ReadLowe: %v", err)
	}
	if !set.Equal(got) {
		t.Error("round trip through Lowe format changed the set")
	}
}

func TestLowe_ExtremeComponents(t *testing.T) {
	set := &DescriptorSet{
		Image: "a.pgm",
		Descriptors: []Descriptor{
			{Vector: []float32{math.MaxFloat32, -math.MaxFloat32, math.SmallestNonzeroFloat32, 1.0 / 3}},
		},
	}
	var buf bytes.Buffer
	if err := WriteLowe(&buf, set); err != nil {
		t.Fatalf("WriteLowe: %v", err)
	}
	got, err := ReadLowe(&buf, "a.pgm")
	if err != nil {
		t.Fatalf("ReadLowe: %v", err)
	}
	if !set.Equal(got) {
		t.Errorf("extreme components changed: %v", got.Descriptors[0].Vector)
	}
}

func TestReadLowe_Empty(t *testing.T) {
	got, err := ReadLowe(strings.NewReader("0 128\n"), "x")
	if err != nil {
		t.Fatalf("ReadLowe: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("expected empty set, got %d descriptors", got.Len())
	}
}

func TestReadLowe_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"bad header", "two 128"},
		{"negative count", "-1 128"},
		{"truncated", "1 4\n1 2 3 4\n 1 2"},
		{"garbage component", "1 2\n1 2 3 4\n 1 x"},
		{"count out of int range", "1e20 128\n"},
		{"huge count", "1e10 128\n"},
		{"infinite count", "Inf 128\n"},
		{"huge dimension", "1 100000\n1 2 3 4\n"},
		{"count over limit", "16777217 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadLowe(strings.NewReader(tt.input), "x"); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
