package descriptors

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/storage/blob"
)

// Store persists descriptor sets by image identity. Load returns
// feature.ErrNotFound for unknown images and feature.ErrCorruptCacheEntry
// for undecodable entries; other failures wrap feature.ErrCacheUnavailable.
// Save must be atomic.
type Store interface {
	Load(ctx context.Context, image string) (*feature.DescriptorSet, error)
	Save(ctx context.Context, set *feature.DescriptorSet) error
}

// Naming maps an image identity to a blob name.
type Naming func(image string) string

// SidecarSuffix is appended to the image path in sidecar mode.
const SidecarSuffix = ".feat"

// SidecarNaming stores descriptors next to the image, as <image>.feat.
func SidecarNaming(image string) string {
	return image + SidecarSuffix
}

// LoweSuffix names keypoint files in Lowe's text format written next to the
// image by an external detector.
const LoweSuffix = ".sift"

// HashedNaming spreads blobs over 256 directories by the sha256 of the
// identity, so that arbitrary paths map to flat, safe object names.
func HashedNaming(image string) string {
	sum := sha256.Sum256([]byte(image))
	h := hex.EncodeToString(sum[:])
	return h[:2] + "/" + h + SidecarSuffix
}

// BlobStore keeps encoded descriptor sets in a blob.Store.
type BlobStore struct {
	blobs       blob.Store
	naming      Naming
	compression Compression
	// lowe, when set, names a read-only Lowe keypoint file consulted when
	// no encoded entry exists.
	lowe Naming
}

func NewBlobStore(blobs blob.Store, naming Naming, compression Compression) *BlobStore {
	return &BlobStore{blobs: blobs, naming: naming, compression: compression}
}

// NewSidecarStore keeps <image>.feat next to each image and falls back to
// an existing <image>.sift keypoint file when no .feat entry is present.
func NewSidecarStore(blobs blob.Store, compression Compression) *BlobStore {
	s := NewBlobStore(blobs, SidecarNaming, compression)
	s.lowe = func(image string) string { return image + LoweSuffix }
	return s
}

func (s *BlobStore) Load(ctx context.Context, image string) (*feature.DescriptorSet, error) {
	data, err := s.get(ctx, s.naming(image))
	if errors.Is(err, feature.ErrNotFound) && s.lowe != nil {
		return s.loadLowe(ctx, image)
	}
	if err != nil {
		return nil, err
	}
	set, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("descriptors of %s: %w", image, err)
	}
	return set, nil
}

func (s *BlobStore) get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, name)
	if err != nil {
		if errors.Is(err, feature.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", feature.ErrCacheUnavailable, err)
	}
	return data, nil
}

func (s *BlobStore) loadLowe(ctx context.Context, image string) (*feature.DescriptorSet, error) {
	name := s.lowe(image)
	data, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	set, err := feature.ReadLowe(bytes.NewReader(data), image)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", feature.ErrCorruptCacheEntry, name, err)
	}
	return set, nil
}

func (s *BlobStore) Save(ctx context.Context, set *feature.DescriptorSet) error {
	data, err := Encode(set, s.compression)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, s.naming(set.Image), data); err != nil {
		return fmt.Errorf("%w: %w", feature.ErrCacheUnavailable, err)
	}
	return nil
}
