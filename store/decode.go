package store

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/INLOpen/pyramid/core"
)

// decodeFunc converts len(dst) little endian values from src into dst.
type decodeFunc func(src []byte, dst []float32)

func decoderFor(st core.SampleType) (decodeFunc, error) {
	switch st {
	case core.SampleFloat16:
		return decodeFloat16, nil
	case core.SampleInt16:
		return decodeInt16, nil
	case core.SampleFloat32:
		return decodeFloat32, nil
	default:
		return nil, &core.UnsupportedTypeError{Message: st.String()}
	}
}

func decodeFloat16(src []byte, dst []float32) {
	for i := range dst {
		dst[i] = float16.Frombits(binary.LittleEndian.Uint16(src[i*2:])).Float32()
	}
}

func decodeInt16(src []byte, dst []float32) {
	for i := range dst {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(src[i*2:])))
	}
}

func decodeFloat32(src []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}
