package compressors

import (
	"fmt"

	"github.com/golang/snappy"
)

// SnappyCompressor uses the snappy block format.
type SnappyCompressor struct{}

func (SnappyCompressor) Compress(dst, src []byte) ([]byte, error) {
	return append(dst, snappy.Encode(nil, src)...), nil
}

func (SnappyCompressor) Decompress(dst, src []byte, rawLen int) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	if len(out) != rawLen {
		return nil, errLength(rawLen, len(out))
	}
	return append(dst, out...), nil
}

func (SnappyCompressor) Type() Type { return Snappy }
