//go:build unix

package sys

import (
	"os"

	"golang.org/x/sys/unix"
)

// MapSupported reports whether MapFile produces a real memory mapping.
const MapSupported = true

func mapFile(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}
