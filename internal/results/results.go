// Package results memoizes match counts by query key.
package results

import (
	"context"
	"time"

	"github.com/kozaktomas/featmatch/internal/feature"
)

// Store is a durable, write-once mapping from query key to match count.
// Lookup reports ok=false for unknown keys. Storing an existing key is a
// no-op. Backend failures wrap feature.ErrCacheUnavailable.
type Store interface {
	Lookup(ctx context.Context, key feature.QueryKey) (count int, ok bool, err error)
	Store(ctx context.Context, key feature.QueryKey, count int) error
}

// Record is one stored match count.
type Record struct {
	Key       feature.QueryKey `json:"key"`
	Count     int              `json:"count"`
	CreatedAt time.Time        `json:"created_at"`
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context, limit int) ([]Record, error)
	Len(ctx context.Context) (int, error)
}
