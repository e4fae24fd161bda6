// Package normalize maps raw sample values to 8-bit display intensities
// using fixed physical bounds.
package normalize

import (
	"fmt"
	"math"

	"github.com/INLOpen/pyramid/core"
)

// Normalizer maps [Min, Max] linearly onto [0, 255], clamping outside it.
// The bounds are configuration and never derived from the data shown.
type Normalizer struct {
	min   float64
	max   float64
	width float64
}

// New creates a Normalizer. max must be greater than min and both finite.
func New(min, max float64) (*Normalizer, error) {
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return nil, fmt.Errorf("normalization bounds must be finite, got [%g, %g]", min, max)
	}
	if max <= min {
		return nil, fmt.Errorf("normalization max %g must be greater than min %g", max, min)
	}
	return &Normalizer{min: min, max: max, width: max - min}, nil
}

// Bounds returns the configured (min, max).
func (n *Normalizer) Bounds() (float64, float64) { return n.min, n.max }

// Normalize returns round(clamp((raw-min)/(max-min), 0, 1) * 255).
// NaN maps to 0.
func (n *Normalizer) Normalize(raw float32) uint8 {
	v := float64(raw)
	switch {
	case math.IsNaN(v), v <= n.min:
		return 0
	case v >= n.max:
		return 255
	}
	return uint8(math.Round((v - n.min) / n.width * 255))
}

// Block normalizes every value of b into a new row-major buffer.
func (n *Normalizer) Block(b *core.Block) []uint8 {
	out := make([]uint8, len(b.Values))
	n.Into(out, b.Values)
	return out
}

// Into normalizes src into dst, which must be at least as long as src.
func (n *Normalizer) Into(dst []uint8, src []float32) {
	for i, v := range src {
		dst[i] = n.Normalize(v)
	}
}
