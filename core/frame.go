package core

import "fmt"

// DisplayFrame is a normalized slice of the pyramid ready for upload.
//
// Data is row-major (Rows × Channels). A frame is never mutated after
// NewDisplayFrame returns; it may be shared between goroutines freely.
type DisplayFrame struct {
	Data     []uint8
	Rows     int
	Channels int
	// Capacity is the number of rows the display buffer can hold.
	Capacity int
	// FillFraction is Rows/Capacity: the renderer must only sample texture
	// coordinates in [0, FillFraction] along the time axis.
	FillFraction float64
	Level        Level
	// Window is the (padded) time extent the frame covers.
	Window TimeWindow
	Range  SampleRange
	// Seq is the request sequence number that produced the frame.
	Seq uint64
}

// NewDisplayFrame assembles a frame from normalized data. It panics if the
// geometry is inconsistent, which can only happen through a programming error.
func NewDisplayFrame(data []uint8, channels, capacity int, r SampleRange, w TimeWindow, seq uint64) *DisplayFrame {
	rows := int(r.Len())
	if rows <= 0 || rows > capacity {
		panic(fmt.Sprintf("display frame rows %d out of (0, %d]", rows, capacity))
	}
	if len(data) != rows*channels {
		panic(fmt.Sprintf("display frame data length %d, want %d", len(data), rows*channels))
	}
	return &DisplayFrame{
		Data:         data,
		Rows:         rows,
		Channels:     channels,
		Capacity:     capacity,
		FillFraction: float64(rows) / float64(capacity),
		Level:        r.Level,
		Window:       w,
		Range:        r,
		Seq:          seq,
	}
}

// At returns the intensity of channel c at row r.
func (f *DisplayFrame) At(r, c int) uint8 {
	return f.Data[r*f.Channels+c]
}

// TexCoords returns the texture rectangle (u0, v0, u1, v1) covering the real
// rows of the frame inside a Capacity-row texture.
func (f *DisplayFrame) TexCoords() [4]float32 {
	return [4]float32{0, 0, float32(f.FillFraction), 1}
}

// RGBA expands the frame into an opaque grey RGBA image laid out
// channel-major: one image row per channel, one pixel per sample.
func (f *DisplayFrame) RGBA() []uint8 {
	out := make([]uint8, f.Rows*f.Channels*4)
	for r := 0; r < f.Rows; r++ {
		row := f.Data[r*f.Channels : (r+1)*f.Channels]
		for c, v := range row {
			p := (c*f.Rows + r) * 4
			out[p] = v
			out[p+1] = v
			out[p+2] = v
			out[p+3] = 255
		}
	}
	return out
}
