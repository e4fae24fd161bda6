package recorder

import (
	"encoding/binary"
	"time"

	"github.com/INLOpen/pyramid/compressors"
)

const (
	// Magic marks a frame recording ("PYFR").
	Magic         uint32 = 0x50594652
	FormatVersion uint8  = 1
	FileExtension        = ".pfr"
)

// FileHeader starts every recording.
type FileHeader struct {
	Magic       uint32
	Version     uint8
	CreatedAt   int64 // UnixNano
	Compression compressors.Type
}

func newFileHeader(c compressors.Type) FileHeader {
	return FileHeader{
		Magic:       Magic,
		Version:     FormatVersion,
		CreatedAt:   time.Now().UnixNano(),
		Compression: c,
	}
}

// frameMeta precedes the compressed payload inside each record.
type frameMeta struct {
	Seq        uint64
	Level      int32
	Rows       uint32
	Channels   uint32
	Capacity   uint32
	WindowMin  float64
	WindowMax  float64
	RangeStart int64
	RangeEnd   int64
	RawLen     uint32
}

var frameMetaSize = binary.Size(frameMeta{})
