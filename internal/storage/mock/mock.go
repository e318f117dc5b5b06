// Package mock provides in-memory implementations of the featmatch stores
// and collaborators for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/index"
)

// MockDetector returns preconfigured descriptor sets and counts calls.
type MockDetector struct {
	mu    sync.RWMutex
	sets  map[string]*feature.DescriptorSet
	calls map[string]int

	// Error injection
	DetectError error
}

// NewMockDetector creates a new mock detector
func NewMockDetector() *MockDetector {
	return &MockDetector{
		sets:  make(map[string]*feature.DescriptorSet),
		calls: make(map[string]int),
	}
}

// AddSet registers the set returned for image.
func (m *MockDetector) AddSet(image string, set *feature.DescriptorSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[image] = set
}

// Detect returns a copy of the registered set; unknown images fail with
// feature.ErrDetectionFailure.
func (m *MockDetector) Detect(ctx context.Context, image string) (*feature.DescriptorSet, error) {
	m.mu.Lock()
	m.calls[image]++
	set, ok := m.sets[image]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.DetectError != nil {
		return nil, m.DetectError
	}
	if !ok {
		return nil, fmt.Errorf("%w: unable to load %s", feature.ErrDetectionFailure, image)
	}
	out := *set
	out.Image = image
	out.Descriptors = append([]feature.Descriptor(nil), set.Descriptors...)
	return &out, nil
}

// Calls returns how many times image was detected.
func (m *MockDetector) Calls(image string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[image]
}

// TotalCalls returns the number of Detect calls over all images.
func (m *MockDetector) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// MockDescriptorStore is an in-memory descriptors.Store.
type MockDescriptorStore struct {
	mu    sync.RWMutex
	sets  map[string]*feature.DescriptorSet
	loads atomic.Int64
	saves atomic.Int64

	// Error injection
	LoadError error
	SaveError error
}

// NewMockDescriptorStore creates a new mock descriptor store
func NewMockDescriptorStore() *MockDescriptorStore {
	return &MockDescriptorStore{sets: make(map[string]*feature.DescriptorSet)}
}

// Load returns the stored set or feature.ErrNotFound.
func (m *MockDescriptorStore) Load(ctx context.Context, image string) (*feature.DescriptorSet, error) {
	m.loads.Add(1)
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.sets[image]
	if !ok {
		return nil, fmt.Errorf("%w: %s", feature.ErrNotFound, image)
	}
	return set, nil
}

// Save stores set under set.Image.
func (m *MockDescriptorStore) Save(ctx context.Context, set *feature.DescriptorSet) error {
	m.saves.Add(1)
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[set.Image] = set
	return nil
}

// Has reports whether a set is stored for image.
func (m *MockDescriptorStore) Has(image string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sets[image]
	return ok
}

// Saves returns the number of Save calls.
func (m *MockDescriptorStore) Saves() int { return int(m.saves.Load()) }

// MockResultStore is an in-memory results.Store.
type MockResultStore struct {
	mu      sync.RWMutex
	counts  map[feature.QueryKey]int
	lookups atomic.Int64
	stores  atomic.Int64

	// Error injection
	LookupError error
	StoreError  error
}

// NewMockResultStore creates a new mock result store
func NewMockResultStore() *MockResultStore {
	return &MockResultStore{counts: make(map[feature.QueryKey]int)}
}

// Lookup returns the stored count for key.
func (m *MockResultStore) Lookup(ctx context.Context, key feature.QueryKey) (int, bool, error) {
	m.lookups.Add(1)
	if m.LookupError != nil {
		return 0, false, m.LookupError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.counts[key]
	return n, ok, nil
}

// Store records count for key unless it already exists.
func (m *MockResultStore) Store(ctx context.Context, key feature.QueryKey, count int) error {
	m.stores.Add(1)
	if m.StoreError != nil {
		return m.StoreError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counts[key]; !ok {
		m.counts[key] = count
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MockResultStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.counts)
}

// Stores returns the number of Store calls.
func (m *MockResultStore) Stores() int { return int(m.stores.Load()) }

// Lookups returns the number of Lookup calls.
func (m *MockResultStore) Lookups() int { return int(m.lookups.Load()) }

// CountingBuilder wraps an index.Builder and counts Build calls.
type CountingBuilder struct {
	Builder index.Builder
	builds  atomic.Int64
}

// Build delegates to the wrapped builder.
func (b *CountingBuilder) Build(set *feature.DescriptorSet) (index.Index, error) {
	b.builds.Add(1)
	return b.Builder.Build(set)
}

// Builds returns the number of Build calls.
func (b *CountingBuilder) Builds() int { return int(b.builds.Load()) }
