package compressors

import (
	"fmt"

	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor uses the lz4 block format. Incompressible input is stored
// raw, flagged by a compressed length equal to the raw length.
type LZ4Compressor struct{}

func (LZ4Compressor) Compress(dst, src []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 || n >= len(src) {
		return append(dst, src...), nil
	}
	return append(dst, buf[:n]...), nil
}

// Decompress treats src as raw when its length equals rawLen. Compress only
// emits a block strictly shorter than its input and stores everything else
// raw, so a compressed block never has the raw length.
func (LZ4Compressor) Decompress(dst, src []byte, rawLen int) ([]byte, error) {
	if len(src) == rawLen {
		return append(dst, src...), nil
	}
	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(src, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	if n != rawLen {
		return nil, errLength(rawLen, n)
	}
	return append(dst, out...), nil
}

func (LZ4Compressor) Type() Type { return LZ4 }

func errLength(want, got int) error {
	return fmt.Errorf("decompressed length %d, want %d", got, want)
}
