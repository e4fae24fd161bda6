package core

import (
	"fmt"
	"math"
	"strings"
)

// Level identifies a resolution level of the pyramid. Level L holds the base
// recording downsampled by a factor of 2^L.
type Level int

// Factor returns the downsampling factor 2^L as a float.
func (l Level) Factor() float64 {
	return math.Ldexp(1, int(l))
}

// SampleType identifies the on-disk encoding of a single channel value.
// This is fixed per pyramid; every level file uses the same encoding.
type SampleType byte

const (
	SampleFloat16 SampleType = 0
	SampleInt16   SampleType = 1
	SampleFloat32 SampleType = 2
)

// Size returns the number of bytes used by one value.
func (st SampleType) Size() int {
	switch st {
	case SampleFloat16, SampleInt16:
		return 2
	case SampleFloat32:
		return 4
	default:
		return 0
	}
}

// String returns the string representation of the SampleType.
func (st SampleType) String() string {
	switch st {
	case SampleFloat16:
		return "float16"
	case SampleInt16:
		return "int16"
	case SampleFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// ParseSampleType converts a configuration string into a SampleType.
func ParseSampleType(s string) (SampleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float16", "f16", "half":
		return SampleFloat16, nil
	case "int16", "i16":
		return SampleInt16, nil
	case "float32", "f32":
		return SampleFloat32, nil
	default:
		return 0, &UnsupportedTypeError{Message: s}
	}
}

// TimeWindow is a continuous time extent in seconds.
type TimeWindow struct {
	Min float64
	Max float64
}

// Width returns Max - Min.
func (w TimeWindow) Width() float64 {
	return w.Max - w.Min
}

// Valid reports whether both bounds are finite and Max > Min.
func (w TimeWindow) Valid() bool {
	if math.IsNaN(w.Min) || math.IsNaN(w.Max) || math.IsInf(w.Min, 0) || math.IsInf(w.Max, 0) {
		return false
	}
	return w.Max > w.Min
}

// Pad extends the window by fraction*width on each side.
func (w TimeWindow) Pad(fraction float64) TimeWindow {
	k := fraction * w.Width()
	return TimeWindow{Min: w.Min - k, Max: w.Max + k}
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%.6g, %.6g]", w.Min, w.Max)
}

// SampleRange is a half-open row range [Start, End) at a given level.
type SampleRange struct {
	Level Level
	Start int64
	End   int64
}

// Len returns End - Start.
func (r SampleRange) Len() int64 {
	return r.End - r.Start
}

func (r SampleRange) String() string {
	return fmt.Sprintf("L%d[%d, %d)", r.Level, r.Start, r.End)
}

// Block holds decoded raw values for a contiguous run of samples, row-major:
// Values[row*Channels+channel].
type Block struct {
	Rows     int
	Channels int
	Values   []float32
}

// Row returns the values of one sample across all channels.
func (b *Block) Row(i int) []float32 {
	return b.Values[i*b.Channels : (i+1)*b.Channels]
}
