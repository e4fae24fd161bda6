// Package extract copies sample ranges out of a level, padding whatever part
// of the range lies outside the recording.
package extract

import (
	"github.com/INLOpen/pyramid/core"
	"github.com/INLOpen/pyramid/store"
)

// Extractor reuses block buffers across extractions.
type Extractor struct {
	pool *core.ValuePool
}

// New creates an Extractor. A nil pool disables buffer reuse.
func New(pool *core.ValuePool) *Extractor {
	return &Extractor{pool: pool}
}

// Extract returns rows [start, end) of ds. Rows outside [0, ds.Samples())
// are filled with pad, as is the whole block when ds is nil. The block always
// holds exactly end-start rows.
//
// start >= end is a programming error and panics with *core.InvalidRangeError.
func (e *Extractor) Extract(ds *store.DataSet, channels int, start, end int64, pad float32) *core.Block {
	if start >= end {
		panic(&core.InvalidRangeError{Start: start, End: end})
	}
	if ds != nil {
		channels = ds.Channels()
	}
	rows := int(end - start)
	values := e.alloc(rows * channels)

	lo, hi := start, end
	if ds != nil {
		lo = max(start, 0)
		hi = min(end, ds.Samples())
	}
	if ds == nil || lo >= hi {
		fill(values, pad)
		return &core.Block{Rows: rows, Channels: channels, Values: values}
	}

	head := int(lo-start) * channels
	tail := int(hi-start) * channels
	fill(values[:head], pad)
	ds.ReadRows(lo, hi, values[head:tail])
	fill(values[tail:], pad)
	return &core.Block{Rows: rows, Channels: channels, Values: values}
}

// Recycle returns the block's buffer to the pool. b must not be used afterwards.
func (e *Extractor) Recycle(b *core.Block) {
	if e.pool == nil || b == nil {
		return
	}
	e.pool.Put(b.Values)
	b.Values = nil
}

func (e *Extractor) alloc(n int) []float32 {
	if e.pool == nil {
		return make([]float32, n)
	}
	return e.pool.Get(n)
}

func fill(dst []float32, v float32) {
	for i := range dst {
		dst[i] = v
	}
}
