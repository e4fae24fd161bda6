package store

import (
	"fmt"
	"sync/atomic"

	"github.com/INLOpen/pyramid/core"
	"github.com/INLOpen/pyramid/sys"
)

// DataSet is one resolution level: a read-only (samples, channels) array in
// row-major order. Handles returned by Store.Open are reference counted and
// must be released; the underlying mapping is dropped when the store has
// evicted the level and the last reader has released it.
type DataSet struct {
	level      core.Level
	path       string
	channels   int
	sampleType core.SampleType
	samples    int64
	data       []byte
	decode     decodeFunc

	mapping *sys.Mapping
	refs    atomic.Int64
	onFree  func(*DataSet)
}

// NewDataSet wraps an in-memory level. The size of data must be a whole
// number of sample records.
func NewDataSet(level core.Level, channels int, st core.SampleType, data []byte) (*DataSet, error) {
	return newDataSet(level, "", channels, st, data, nil)
}

func newDataSet(level core.Level, path string, channels int, st core.SampleType, data []byte, m *sys.Mapping) (*DataSet, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	dec, err := decoderFor(st)
	if err != nil {
		return nil, err
	}
	recordSize := int64(channels * st.Size())
	size := int64(len(data))
	if size%recordSize != 0 {
		return nil, &core.CorruptFileError{Level: level, Path: path, Size: size, RecordSize: recordSize}
	}
	ds := &DataSet{
		level:      level,
		path:       path,
		channels:   channels,
		sampleType: st,
		samples:    size / recordSize,
		data:       data,
		decode:     dec,
		mapping:    m,
	}
	ds.refs.Store(1)
	return ds, nil
}

func (d *DataSet) Level() core.Level           { return d.level }
func (d *DataSet) Path() string                { return d.path }
func (d *DataSet) Samples() int64              { return d.samples }
func (d *DataSet) Channels() int               { return d.channels }
func (d *DataSet) SampleType() core.SampleType { return d.sampleType }

// Bytes returns the size of the level in bytes.
func (d *DataSet) Bytes() int64 { return int64(len(d.data)) }

// ReadRows decodes rows [start, end) into dst, which must hold at least
// (end-start)*Channels values. It panics when the range is outside [0, Samples).
func (d *DataSet) ReadRows(start, end int64, dst []float32) {
	if start < 0 || end > d.samples || start > end {
		panic(fmt.Sprintf("store: rows [%d, %d) out of bounds for level %d with %d samples", start, end, d.level, d.samples))
	}
	record := int64(d.channels * d.sampleType.Size())
	n := int(end-start) * d.channels
	d.decode(d.data[start*record:end*record], dst[:n])
}

// Row decodes a single sample across all channels into dst.
func (d *DataSet) Row(i int64, dst []float32) {
	d.ReadRows(i, i+1, dst)
}

// tryAcquire takes a reference unless the set has already been freed.
func (d *DataSet) tryAcquire() bool {
	for {
		n := d.refs.Load()
		if n <= 0 {
			return false
		}
		if d.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The handle must not be used afterwards.
func (d *DataSet) Release() {
	if d.refs.Add(-1) != 0 {
		return
	}
	if d.mapping != nil {
		_ = d.mapping.Close()
	}
	d.data = nil
	if d.onFree != nil {
		d.onFree(d)
	}
}
