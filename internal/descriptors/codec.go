package descriptors

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/kozaktomas/featmatch/internal/feature"
)

// Compression selects how encoded descriptor blobs are compressed.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	// CompressionLZ4 trades ratio for faster loads.
	CompressionLZ4 Compression = 2
)

// ParseCompression maps a config value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none":
		return CompressionNone, nil
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("%w: unknown compression %q", feature.ErrInvalidInput, s)
	}
}

// Blob layout: magic "FMDS", format version, compression, gob payload.
var blobMagic = []byte("FMDS")

const (
	blobVersion    = 1
	blobHeaderSize = 6
)

// record is the gob payload. Field order is part of the format.
type record struct {
	Image       string
	Width       int
	Height      int
	Descriptors []feature.Descriptor
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode serializes a descriptor set. Vectors round-trip bit for bit.
func Encode(set *feature.DescriptorSet, c Compression) ([]byte, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	var payload bytes.Buffer
	rec := record{Image: set.Image, Width: set.Width, Height: set.Height, Descriptors: set.Descriptors}
	if err := gob.NewEncoder(&payload).Encode(rec); err != nil {
		return nil, fmt.Errorf("failed to encode descriptors: %w", err)
	}

	out := make([]byte, blobHeaderSize, blobHeaderSize+payload.Len())
	copy(out, blobMagic)
	out[4] = blobVersion
	out[5] = byte(c)

	switch c {
	case CompressionNone:
		return append(out, payload.Bytes()...), nil
	case CompressionZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(payload.Bytes(), out), nil
	case CompressionLZ4:
		buf := bytes.NewBuffer(out)
		zw := lz4.NewWriter(buf)
		if _, err := zw.Write(payload.Bytes()); err != nil {
			return nil, fmt.Errorf("failed to compress descriptors: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress descriptors: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", feature.ErrInvalidInput, c)
	}
}

// Decode parses a blob produced by Encode. Any malformed input wraps
// feature.ErrCorruptCacheEntry.
func Decode(data []byte) (*feature.DescriptorSet, error) {
	if len(data) < blobHeaderSize || !bytes.Equal(data[:4], blobMagic) {
		return nil, fmt.Errorf("%w: missing descriptor blob header", feature.ErrCorruptCacheEntry)
	}
	if data[4] != blobVersion {
		return nil, fmt.Errorf("%w: unsupported descriptor blob version %d", feature.ErrCorruptCacheEntry, data[4])
	}

	payload := data[blobHeaderSize:]
	switch Compression(data[5]) {
	case CompressionNone:
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		var err error
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompressing descriptors: %w", feature.ErrCorruptCacheEntry, err)
		}
	case CompressionLZ4:
		var err error
		payload, err = io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("%w: decompressing descriptors: %w", feature.ErrCorruptCacheEntry, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", feature.ErrCorruptCacheEntry, data[5])
	}

	var rec record
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decoding descriptors: %w", feature.ErrCorruptCacheEntry, err)
	}
	set := &feature.DescriptorSet{Image: rec.Image, Width: rec.Width, Height: rec.Height, Descriptors: rec.Descriptors}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", feature.ErrCorruptCacheEntry, err)
	}
	return set, nil
}
