package compressors

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor wraps a shared encoder and decoder; EncodeAll and
// DecodeAll are safe for concurrent use.
type ZstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor creates a zstd compressor tuned for many small payloads.
func NewZstdCompressor() (*ZstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &ZstdCompressor{enc: enc, dec: dec}, nil
}

func (c *ZstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return dst, nil
	}
	return c.enc.EncodeAll(src, dst), nil
}

func (c *ZstdCompressor) Decompress(dst, src []byte, rawLen int) ([]byte, error) {
	if len(src) == 0 && rawLen == 0 {
		return dst, nil
	}
	start := len(dst)
	out, err := c.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	if len(out)-start != rawLen {
		return nil, errLength(rawLen, len(out)-start)
	}
	return out, nil
}

func (c *ZstdCompressor) Type() Type { return Zstd }
