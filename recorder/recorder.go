// Package recorder persists emitted display frames so a session can be
// replayed or inspected offline.
//
// A recording is a FileHeader followed by records of the form
// length (4 bytes) | meta | compressed payload | crc32 (4 bytes).
package recorder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/INLOpen/pyramid/compressors"
	"github.com/INLOpen/pyramid/core"
)

var ErrClosed = errors.New("recorder is closed")

// Options configures a Recorder.
type Options struct {
	Dir        string
	Compressor compressors.Compressor
	Logger     *slog.Logger
}

// Recorder is a frame sink that appends every frame to a session file.
// It is safe for concurrent use.
type Recorder struct {
	id         uuid.UUID
	path       string
	compressor compressors.Compressor
	logger     *slog.Logger

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	buf    bytes.Buffer
	frames int64
	bytes  int64
}

// New creates a new session file in opts.Dir named after a fresh session ID.
func New(opts Options) (*Recorder, error) {
	comp := opts.Compressor
	if comp == nil {
		comp = compressors.NoCompression{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording dir %s: %w", opts.Dir, err)
	}

	id := uuid.New()
	path := filepath.Join(opts.Dir, "frames-"+id.String()+FileExtension)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording %s: %w", path, err)
	}
	w := bufio.NewWriter(file)
	header := newFileHeader(comp.Type())
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write recording header to %s: %w", path, err)
	}

	r := &Recorder{
		id:         id,
		path:       path,
		compressor: comp,
		logger:     logger.With("component", "FrameRecorder", "session", id.String()),
		file:       file,
		writer:     w,
	}
	r.logger.Info("Recording frames", "path", path, "compression", comp.Type().String())
	return r, nil
}

// SessionID identifies the recording.
func (r *Recorder) SessionID() uuid.UUID { return r.id }

// Path returns the session file.
func (r *Recorder) Path() string { return r.path }

// Upload appends frame to the recording.
func (r *Recorder) Upload(_ context.Context, frame *core.DisplayFrame) error {
	meta := frameMeta{
		Seq:        frame.Seq,
		Level:      int32(frame.Level),
		Rows:       uint32(frame.Rows),
		Channels:   uint32(frame.Channels),
		Capacity:   uint32(frame.Capacity),
		WindowMin:  frame.Window.Min,
		WindowMax:  frame.Window.Max,
		RangeStart: frame.Range.Start,
		RangeEnd:   frame.Range.End,
		RawLen:     uint32(len(frame.Data)),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ErrClosed
	}

	r.buf.Reset()
	if err := binary.Write(&r.buf, binary.LittleEndian, &meta); err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", frame.Seq, err)
	}
	body, err := r.compressor.Compress(r.buf.Bytes(), frame.Data)
	if err != nil {
		return fmt.Errorf("failed to compress frame %d: %w", frame.Seq, err)
	}

	if err := binary.Write(r.writer, binary.LittleEndian, uint32(len(body))); err != nil {
		return fmt.Errorf("failed to write record length: %w", err)
	}
	if _, err := r.writer.Write(body); err != nil {
		return fmt.Errorf("failed to write record data: %w", err)
	}
	if err := binary.Write(r.writer, binary.LittleEndian, crc32.ChecksumIEEE(body)); err != nil {
		return fmt.Errorf("failed to write record checksum: %w", err)
	}
	r.frames++
	r.bytes += int64(len(body)) + 8
	return nil
}

// Stats returns the number of frames and record bytes written so far.
func (r *Recorder) Stats() (frames, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames, r.bytes
}

// Flush writes buffered records to the file.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ErrClosed
	}
	return r.writer.Flush()
}

// Close flushes, syncs and closes the recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.writer.Flush()
	if err == nil {
		err = r.file.Sync()
	}
	closeErr := r.file.Close()
	r.file = nil
	r.logger.Info("Recording closed", "frames", r.frames, "bytes", r.bytes)
	return errors.Join(err, closeErr)
}
