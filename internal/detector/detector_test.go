package detector

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/kozaktomas/featmatch/internal/feature"
)

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, "img.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(dir, "detect.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

const twoKeypoints = `printf '2 4\n10.5 20.5 1.5 0.25\n 1 2 3 4\n11 21 2 0.5\n 5 6 7 8\n'`

func TestReadImageInfo(t *testing.T) {
	dir := t.TempDir()

	info, err := ReadImageInfo(writePNG(t, dir, 32, 16))
	if err != nil {
		t.Fatalf("ReadImageInfo png: %v", err)
	}
	if info.Format != "png" || info.Width != 32 || info.Height != 16 {
		t.Errorf("unexpected info %+v", info)
	}

	pgm := filepath.Join(dir, "img.pgm")
	if err := os.WriteFile(pgm, []byte("P5\n1 1\n255\n\x00"), 0o600); err != nil {
		t.Fatalf("write pgm: %v", err)
	}
	info, err = ReadImageInfo(pgm)
	if err != nil {
		t.Fatalf("ReadImageInfo pgm: %v", err)
	}
	if info != (ImageInfo{}) {
		t.Errorf("expected empty info for unknown format, got %+v", info)
	}

	if _, err := ReadImageInfo(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExec_DetectWithPlaceholder(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 8, 4)
	script := writeScript(t, dir, `test -f "$1" || exit 3
`+twoKeypoints)

	d := &Exec{Command: []string{"sh", script, ImagePlaceholder}, Timeout: 10 * time.Second}
	set, err := d.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if set.Len() != 2 || set.Dim() != 4 {
		t.Fatalf("got %d descriptors of dim %d, want 2 of dim 4", set.Len(), set.Dim())
	}
	if set.Image != img || set.Width != 8 || set.Height != 4 {
		t.Errorf("unexpected provenance %q %dx%d", set.Image, set.Width, set.Height)
	}
	first := set.Descriptors[0]
	if first.Y != 10.5 || first.X != 20.5 || first.Vector[3] != 4 {
		t.Errorf("unexpected first descriptor %+v", first)
	}
}

func TestExec_DetectViaStdin(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 8, 4)
	script := writeScript(t, dir, `n=$(wc -c)
test "$n" -gt 0 || exit 4
`+twoKeypoints)

	d, err := NewExec("sh "+script, 0)
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}
	set, err := d.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if set.Len() != 2 {
		t.Errorf("got %d descriptors, want 2", set.Len())
	}
}

func TestExec_Failures(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 8, 4)

	tests := []struct {
		name    string
		body    string
		image   string
		timeout time.Duration
	}{
		{"non-zero exit", "echo broken >&2\nexit 1\n", img, 10 * time.Second},
		{"garbage output", "echo not keypoints\n", img, 10 * time.Second},
		{"oversized header", "echo 1e10 128\n", img, 10 * time.Second},
		{"missing image", twoKeypoints, filepath.Join(dir, "missing.png"), 10 * time.Second},
		{"timeout", "exec sleep 5\n", img, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, t.TempDir(), tt.body)
			d := &Exec{Command: []string{"sh", script, ImagePlaceholder}, Timeout: tt.timeout}
			_, err := d.Detect(context.Background(), tt.image)
			if !errors.Is(err, feature.ErrDetectionFailure) {
				t.Errorf("expected ErrDetectionFailure, got %v", err)
			}
		})
	}
}

func TestNewExec_Empty(t *testing.T) {
	if _, err := NewExec("   ", 0); !errors.Is(err, feature.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFunc(t *testing.T) {
	called := false
	var d Detector = Func(func(ctx context.Context, image string) (*feature.DescriptorSet, error) {
		called = true
		return &feature.DescriptorSet{Image: image}, nil
	})
	set, err := d.Detect(context.Background(), "x")
	if err != nil || !called || set.Image != "x" {
		t.Errorf("Func adapter did not forward the call: %v %v %v", set, err, called)
	}
}
