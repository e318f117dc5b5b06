package descriptors

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/featmatch/internal/feature"
	"github.com/kozaktomas/featmatch/internal/storage/blob"
)

type failingBlobs struct{ err error }

func (f failingBlobs) Get(context.Context, string) ([]byte, error)     { return nil, f.err }
func (f failingBlobs) Put(context.Context, string, []byte) error       { return f.err }
func (f failingBlobs) List(context.Context, string) ([]string, error) { return nil, f.err }

func TestNaming(t *testing.T) {
	if got := SidecarNaming("/img/a.jpg"); got != "/img/a.jpg.feat" {
		t.Errorf("SidecarNaming = %q", got)
	}
	h := HashedNaming("/img/a.jpg")
	if !strings.HasSuffix(h, SidecarSuffix) || h[2] != '/' || len(h) != 2+1+64+len(SidecarSuffix) {
		t.Errorf("unexpected hashed name %q", h)
	}
	if HashedNaming("/img/a.jpg") != h || HashedNaming("/img/b.jpg") == h {
		t.Error("hashed naming must be stable and distinct")
	}
}

func TestBlobStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(blob.NewMemoryStore(), HashedNaming, CompressionZstd)

	if _, err := store.Load(ctx, "photos/a.jpg"); !errors.Is(err, feature.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	want := sampleSet()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx, "photos/a.jpg")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(want) {
		t.Error("loaded set differs from saved set")
	}
}

func TestBlobStore_Sidecar(t *testing.T) {
	ctx := context.Background()
	image := filepath.Join(t.TempDir(), "a.jpg")
	store := NewBlobStore(blob.NewLocalStore(""), SidecarNaming, CompressionNone)

	set := sampleSet()
	set.Image = image
	if err := store.Save(ctx, set); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(image + SidecarSuffix); err != nil {
		t.Errorf("expected sidecar file: %v", err)
	}

	if err := os.WriteFile(image+SidecarSuffix, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Load(ctx, image); !errors.Is(err, feature.ErrCorruptCacheEntry) {
		t.Errorf("expected ErrCorruptCacheEntry, got %v", err)
	}
}

func TestBlobStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(failingBlobs{err: errors.New("connection refused")}, HashedNaming, CompressionZstd)

	if _, err := store.Load(ctx, "a.jpg"); !errors.Is(err, feature.ErrCacheUnavailable) {
		t.Errorf("Load: expected ErrCacheUnavailable, got %v", err)
	}
	if err := store.Save(ctx, sampleSet()); !errors.Is(err, feature.ErrCacheUnavailable) {
		t.Errorf("Save: expected ErrCacheUnavailable, got %v", err)
	}

	cancelled := NewBlobStore(failingBlobs{err: context.Canceled}, HashedNaming, CompressionZstd)
	if _, err := cancelled.Load(ctx, "a.jpg"); errors.Is(err, feature.ErrCacheUnavailable) || !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation must not be reported as unavailable, got %v", err)
	}
}

func TestSidecarStore_LoweFallback(t *testing.T) {
	ctx := context.Background()
	image := filepath.Join(t.TempDir(), "a.jpg")
	store := NewSidecarStore(blob.NewLocalStore(""), CompressionNone)

	if _, err := store.Load(ctx, image); !errors.Is(err, feature.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without any sidecar, got %v", err)
	}

	want := sampleSet()
	var buf bytes.Buffer
	if err := feature.WriteLowe(&buf, want); err != nil {
		t.Fatalf("WriteLowe: %v", err)
	}
	if err := os.WriteFile(image+LoweSuffix, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := store.Load(ctx, image)
	if err != nil {
		t.Fatalf("Load from keypoint file: %v", err)
	}
	if got.Image != image || got.Len() != want.Len() || got.Dim() != want.Dim() {
		t.Errorf("unexpected set from keypoint file: image %q, %d x %d", got.Image, got.Len(), got.Dim())
	}

	// An encoded entry takes precedence over the keypoint file.
	saved := sampleSet()
	saved.Image = image
	saved.Descriptors = saved.Descriptors[:1]
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = store.Load(ctx, image)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Len() != 1 {
		t.Errorf("expected the .feat entry to win, got %d descriptors", got.Len())
	}
}

func TestSidecarStore_CorruptLoweFile(t *testing.T) {
	image := filepath.Join(t.TempDir(), "a.jpg")
	if err := os.WriteFile(image+LoweSuffix, []byte("1e10 128\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := NewSidecarStore(blob.NewLocalStore(""), CompressionNone)
	if _, err := store.Load(context.Background(), image); !errors.Is(err, feature.ErrCorruptCacheEntry) {
		t.Errorf("expected ErrCorruptCacheEntry, got %v", err)
	}
}

func TestBlobStore_HashedHasNoLoweFallback(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemoryStore()
	var buf bytes.Buffer
	if err := feature.WriteLowe(&buf, sampleSet()); err != nil {
		t.Fatalf("WriteLowe: %v", err)
	}
	if err := blobs.Put(ctx, "a.jpg"+LoweSuffix, buf.Bytes()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store := NewBlobStore(blobs, HashedNaming, CompressionNone)
	if _, err := store.Load(ctx, "a.jpg"); !errors.Is(err, feature.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
