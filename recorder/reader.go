package recorder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/INLOpen/pyramid/compressors"
	"github.com/INLOpen/pyramid/core"
)

// maxRecordSize guards against reading a garbage length.
const maxRecordSize = 256 << 20

// Reader replays a recording.
type Reader struct {
	file       *os.File
	reader     *bufio.Reader
	header     FileHeader
	compressor compressors.Compressor
}

// Open opens a recording and validates its header.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{file: file, reader: bufio.NewReader(file)}
	if err := binary.Read(r.reader, binary.LittleEndian, &r.header); err != nil {
		file.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("recording %s is empty or truncated at header", path)
		}
		return nil, fmt.Errorf("failed to read recording header from %s: %w", path, err)
	}
	if r.header.Magic != Magic {
		file.Close()
		return nil, fmt.Errorf("invalid magic number in recording %s: got %x, want %x", path, r.header.Magic, Magic)
	}
	if r.header.Version != FormatVersion {
		file.Close()
		return nil, fmt.Errorf("unsupported recording version %d in %s", r.header.Version, path)
	}
	r.compressor, err = compressors.New(r.header.Compression)
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// Header returns the recording header.
func (r *Reader) Header() FileHeader { return r.header }

// Next returns the next frame, or io.EOF after the last one. A record cut
// short by a crash is reported as io.ErrUnexpectedEOF.
func (r *Reader) Next() (*core.DisplayFrame, error) {
	var length uint32
	if err := binary.Read(r.reader, binary.LittleEndian, &length); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read record length: %w", err)
	}
	if length < uint32(frameMetaSize) || length > maxRecordSize {
		return nil, fmt.Errorf("invalid record length %d", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r.reader, body); err != nil {
		return nil, fmt.Errorf("failed to read record data: %w", io.ErrUnexpectedEOF)
	}
	var checksum uint32
	if err := binary.Read(r.reader, binary.LittleEndian, &checksum); err != nil {
		return nil, fmt.Errorf("failed to read record checksum: %w", io.ErrUnexpectedEOF)
	}
	if crc32.ChecksumIEEE(body) != checksum {
		return nil, fmt.Errorf("record checksum mismatch")
	}

	var meta frameMeta
	if err := binary.Read(bytes.NewReader(body[:frameMetaSize]), binary.LittleEndian, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode frame meta: %w", err)
	}
	data, err := r.compressor.Decompress(nil, body[frameMetaSize:], int(meta.RawLen))
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", meta.Seq, err)
	}
	if meta.RangeEnd-meta.RangeStart != int64(meta.Rows) || meta.Rows == 0 || meta.Rows > meta.Capacity ||
		int(meta.Rows)*int(meta.Channels) != len(data) {
		return nil, fmt.Errorf("frame %d has inconsistent geometry", meta.Seq)
	}
	return core.NewDisplayFrame(
		data,
		int(meta.Channels),
		int(meta.Capacity),
		core.SampleRange{Level: core.Level(meta.Level), Start: meta.RangeStart, End: meta.RangeEnd},
		core.TimeWindow{Min: meta.WindowMin, Max: meta.WindowMax},
		meta.Seq,
	), nil
}

// Close closes the recording.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
