// Package compressors implements the payload codecs used when recording frames.
package compressors

import (
	"fmt"
	"strings"
)

// Type identifies a codec in recorded data. Values are persisted; do not reorder.
type Type byte

const (
	None   Type = 0
	Snappy Type = 1
	LZ4    Type = 2
	Zstd   Type = 3
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// ParseType converts a configuration name into a Type.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown compression %q", name)
	}
}

// Compressor compresses frame payloads. Implementations are safe for
// concurrent use.
type Compressor interface {
	// Compress appends the compressed form of src to dst.
	Compress(dst, src []byte) ([]byte, error)
	// Decompress appends the decompressed form of src to dst. rawLen is the
	// exact uncompressed length, which block formats need.
	Decompress(dst, src []byte, rawLen int) ([]byte, error)
	Type() Type
}

// New returns the compressor for t.
func New(t Type) (Compressor, error) {
	switch t {
	case None:
		return NoCompression{}, nil
	case Snappy:
		return SnappyCompressor{}, nil
	case LZ4:
		return LZ4Compressor{}, nil
	case Zstd:
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("unsupported compression type %v", t)
	}
}

// ForName is New(ParseType(name)).
func ForName(name string) (Compressor, error) {
	t, err := ParseType(name)
	if err != nil {
		return nil, err
	}
	return New(t)
}
