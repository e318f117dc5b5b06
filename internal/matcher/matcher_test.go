package matcher

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/index"
)

// scriptedIndex returns canned neighbors keyed by the first vector component.
type scriptedIndex struct {
	results map[float32][]index.Neighbor
	size    int
	err     error
}

func (s *scriptedIndex) Search(query []float32, k, _ int) ([]index.Neighbor, error) {
	if s.err != nil {
		return nil, s.err
	}
	ns := s.results[query[0]]
	if len(ns) > k {
		ns = ns[:k]
	}
	return ns, nil
}

func (s *scriptedIndex) Len() int { return s.size }

func setOf(firsts ...float32) *feature.DescriptorSet {
	set := &feature.DescriptorSet{Image: "a.jpg"}
	for _, f := range firsts {
		set.Descriptors = append(set.Descriptors, feature.Descriptor{Vector: []float32{f, 0}})
	}
	return set
}

func TestAccept_Boundary(t *testing.T) {
	tests := []struct {
		name     string
		dist0    float64
		dist1    float64
		ratio    float64
		expected bool
	}{
		{"clearly closer", 1.0, 2.0, 0.65, true},
		{"exactly at threshold", 1.3, 2.0, 0.65, false},
		{"just below threshold", 1.2999999, 2.0, 0.65, true},
		{"equal distances", 2.0, 2.0, 0.65, false},
		{"both zero", 0, 0, 0.65, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accept(tt.dist0, tt.dist1, tt.ratio); got != tt.expected {
				t.Errorf("Accept(%v, %v, %v) = %v, want %v", tt.dist0, tt.dist1, tt.ratio, got, tt.expected)
			}
		})
	}
}

func TestMatch_RatioTest(t *testing.T) {
	idx := &scriptedIndex{size: 3, results: map[float32][]index.Neighbor{
		1: {{ID: 0, DistSq: 1.0}, {ID: 1, DistSq: 2.0}}, // accepted
		2: {{ID: 1, DistSq: 1.3}, {ID: 2, DistSq: 2.0}}, // rejected at boundary
		3: {{ID: 2, DistSq: 0.5}},                       // single neighbor
		4: nil,                                          // empty neighborhood
		5: {{ID: 2, DistSq: 0}, {ID: 0, DistSq: 10}},    // accepted
	}}

	m := New(feature.DefaultParams())
	res, err := m.Match(context.Background(), setOf(1, 2, 3, 4, 5), idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("Count = %d, want 2", res.Count)
	}
	want := []feature.Match{{Query: 0, Neighbor: 0, DistSq: 1.0}, {Query: 4, Neighbor: 2, DistSq: 0}}
	if len(res.Matches) != len(want) {
		t.Fatalf("got %d matches, want %d", len(res.Matches), len(want))
	}
	for i := range want {
		if res.Matches[i] != want[i] {
			t.Errorf("match %d = %+v, want %+v", i, res.Matches[i], want[i])
		}
	}
}

func TestMatch_EmptyInputs(t *testing.T) {
	m := New(feature.DefaultParams())

	res, err := m.Match(context.Background(), setOf(1, 2), nil)
	if err != nil || res.Count != 0 {
		t.Errorf("nil index: got %v, %v; want count 0", res, err)
	}

	res, err = m.Match(context.Background(), setOf(), &scriptedIndex{size: 2})
	if err != nil || res.Count != 0 {
		t.Errorf("empty set: got %v, %v; want count 0", res, err)
	}
}

func TestMatch_InvalidParams(t *testing.T) {
	m := New(feature.Params{MaxNNChecks: 0, RatioThreshold: 0.65})
	if _, err := m.Match(context.Background(), setOf(1), &scriptedIndex{size: 1}); !errors.Is(err, feature.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMatch_IndexError(t *testing.T) {
	boom := errors.New("boom")
	m := New(feature.DefaultParams())
	_, err := m.Match(context.Background(), setOf(1, 2, 3), &scriptedIndex{size: 1, err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("expected index error, got %v", err)
	}
}

func TestMatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(feature.DefaultParams())
	_, err := m.Match(ctx, setOf(1, 2, 3), &scriptedIndex{size: 1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMatch_Progress(t *testing.T) {
	var calls atomic.Int64
	m := New(feature.DefaultParams())
	m.OnProgress = func() { calls.Add(1) }

	if _, err := m.Match(context.Background(), setOf(1, 2, 3, 4), &scriptedIndex{size: 1}); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("OnProgress called %d times, want 4", calls.Load())
	}
}

func randomSet(n, dim int, seed int64) *feature.DescriptorSet {
	rng := rand.New(rand.NewSource(seed))
	set := &feature.DescriptorSet{Descriptors: make([]feature.Descriptor, n)}
	for i := range set.Descriptors {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(rng.Intn(256))
		}
		set.Descriptors[i] = feature.Descriptor{Vector: vec}
	}
	return set
}

// perturbed returns a copy of set with small noise so that most descriptors
// keep their source descriptor as the distinct nearest neighbor.
func perturbed(set *feature.DescriptorSet, seed int64) *feature.DescriptorSet {
	rng := rand.New(rand.NewSource(seed))
	out := &feature.DescriptorSet{Descriptors: make([]feature.Descriptor, set.Len())}
	for i := range set.Descriptors {
		vec := append([]float32(nil), set.Descriptors[i].Vector...)
		for j := range vec {
			vec[j] += float32(rng.Intn(5) - 2)
		}
		out.Descriptors[i] = feature.Descriptor{Vector: vec}
	}
	return out
}

func TestMatch_OrderIndependent(t *testing.T) {
	b := randomSet(150, 32, 1)
	a := perturbed(b, 2)
	// Mix in unrelated descriptors that should mostly fail the ratio test.
	a.Descriptors = append(a.Descriptors, randomSet(50, 32, 3).Descriptors...)

	idx, err := index.HNSWBuilder{}.Build(b)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	serial := &Matcher{Params: feature.DefaultParams(), Workers: 1}
	base, err := serial.Match(context.Background(), a, idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if base.Count == 0 {
		t.Fatal("expected some accepted matches")
	}

	permuted := &feature.DescriptorSet{Descriptors: append([]feature.Descriptor(nil), a.Descriptors...)}
	rand.New(rand.NewSource(9)).Shuffle(permuted.Len(), func(i, j int) {
		permuted.Descriptors[i], permuted.Descriptors[j] = permuted.Descriptors[j], permuted.Descriptors[i]
	})

	for _, workers := range []int{1, 4, 16} {
		m := &Matcher{Params: feature.DefaultParams(), Workers: workers}
		for _, set := range []*feature.DescriptorSet{a, permuted} {
			res, err := m.Match(context.Background(), set, idx)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if res.Count != base.Count {
				t.Errorf("workers=%d: count %d, want %d", workers, res.Count, base.Count)
			}
			if len(res.Matches) != res.Count {
				t.Errorf("workers=%d: %d matches for count %d", workers, len(res.Matches), res.Count)
			}
		}
	}
}

func TestMatch_Deterministic(t *testing.T) {
	b := randomSet(120, 16, 21)
	a := perturbed(b, 22)
	m := New(feature.DefaultParams())

	var first int
	for run := range 5 {
		idx, err := index.HNSWBuilder{Seed: index.DefaultSeed}.Build(b)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		res, err := m.Match(context.Background(), a, idx)
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if run == 0 {
			first = res.Count
			continue
		}
		if res.Count != first {
			t.Errorf("run %d: count %d, want %d", run, res.Count, first)
		}
	}
}
