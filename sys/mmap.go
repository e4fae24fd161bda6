package sys

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

// ErrMappingClosed is returned when a closed Mapping is accessed.
var ErrMappingClosed = errors.New("mapping is closed")

// Mapping is a read-only view of an entire file. On unix platforms the view
// is a shared memory mapping paged in lazily by the kernel; elsewhere the
// file is read into memory once.
//
// A Mapping is safe for concurrent readers. Close must not race with readers;
// callers own that ordering.
type Mapping struct {
	name   string
	data   []byte
	unmap  func([]byte) error
	closed atomic.Bool
}

// StatHandler and OpenHandler allow tests to inject filesystem behaviour.
type StatHandler func(name string) (os.FileInfo, error)
type OpenHandler func(name string) (*os.File, error)

var Stat StatHandler = os.Stat
var Open OpenHandler = os.Open

// Exists reports whether name exists. Any error other than "not exist" is returned.
func Exists(name string) (bool, error) {
	_, err := Stat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// MapFile maps the whole of name read-only.
func MapFile(name string) (*Mapping, error) {
	f, err := Open(name)
	if err != nil {
		return nil, err
	}
	// The mapping stays valid after the descriptor is closed.
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	size := fi.Size()
	if size == 0 {
		return &Mapping{name: name}, nil
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("file %s too large to map (%d bytes)", name, size)
	}

	data, unmap, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", name, err)
	}
	return &Mapping{name: name, data: data, unmap: unmap}, nil
}

// Name returns the path the mapping was created from.
func (m *Mapping) Name() string { return m.name }

// Len returns the size of the mapped file in bytes.
func (m *Mapping) Len() int64 { return int64(len(m.data)) }

// Bytes returns the mapped contents. The slice must not be written to and
// must not be used after Close.
func (m *Mapping) Bytes() []byte { return m.data }

// Close releases the mapping. It is safe to call more than once.
func (m *Mapping) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	data := m.data
	m.data = nil
	if data == nil || m.unmap == nil {
		return nil
	}
	if err := m.unmap(data); err != nil {
		return fmt.Errorf("failed to unmap %s: %w", m.name, err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (m *Mapping) Closed() bool { return m.closed.Load() }
