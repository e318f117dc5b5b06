package detector

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageInfo describes an image without decoding its pixels.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// ReadImageInfo opens path and reads the image header. Formats the standard and
// x/image decoders do not know (e.g. PGM) yield an empty ImageInfo and no
// error; an unreadable file is an error.
func ReadImageInfo(path string) (ImageInfo, error) {
	f, err := os.Open(path) //nolint:gosec // path is the image the user asked to match
	if err != nil {
		return ImageInfo{}, fmt.Errorf("unable to load %s: %w", path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if errors.Is(err, image.ErrFormat) {
		return ImageInfo{}, nil
	}
	if err != nil {
		return ImageInfo{}, fmt.Errorf("unable to load %s: %w", path, err)
	}
	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
