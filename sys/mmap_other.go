//go:build !unix

package sys

import (
	"io"
	"os"
)

// MapSupported reports whether MapFile produces a real memory mapping.
const MapSupported = false

func mapFile(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}
