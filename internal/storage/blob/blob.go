// Package blob stores opaque byte blobs by name on the local file system or
// in S3-compatible object storage.
package blob

import (
	"context"
)

// Store is a named blob store. Get returns feature.ErrNotFound for missing
// blobs; Put replaces a blob atomically so readers never see partial data.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
}
