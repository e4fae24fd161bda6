// Package testutil writes synthetic pyramids for tests.
package testutil

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/x448/float16"

	"github.com/INLOpen/pyramid/core"
)

// ValueFunc returns the value of channel ch of sample row at level.
type ValueFunc func(level core.Level, row, ch int) float32

// RowIndex encodes the row number, convenient for checking which rows an
// extraction copied. Keep rows below 2048 when using float16.
func RowIndex(_ core.Level, row, _ int) float32 { return float32(row) }

// Encode serializes values in the on-disk little endian layout of st.
func Encode(st core.SampleType, values []float32) []byte {
	buf := make([]byte, len(values)*st.Size())
	for i, v := range values {
		switch st {
		case core.SampleFloat16:
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
		case core.SampleInt16:
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
		case core.SampleFloat32:
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		default:
			panic(fmt.Sprintf("testutil: unsupported sample type %v", st))
		}
	}
	return buf
}

// LevelValues builds a row-major (rows, channels) slice from fn.
func LevelValues(level core.Level, rows, channels int, fn ValueFunc) []float32 {
	values := make([]float32, rows*channels)
	for r := 0; r < rows; r++ {
		for c := 0; c < channels; c++ {
			values[r*channels+c] = fn(level, r, c)
		}
	}
	return values
}

// WriteLevel writes one level file named after pattern into dir and returns its path.
func WriteLevel(t testing.TB, dir, pattern string, level core.Level, st core.SampleType, rows, channels int, fn ValueFunc) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf(pattern, int(level)))
	if err := os.WriteFile(path, Encode(st, LevelValues(level, rows, channels, fn)), 0o644); err != nil {
		t.Fatalf("failed to write level %d: %v", level, err)
	}
	return path
}

// WriteRaw writes arbitrary bytes as the file of level.
func WriteRaw(t testing.TB, dir, pattern string, level core.Level, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf(pattern, int(level)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write level %d: %v", level, err)
	}
	return path
}

// LevelRows returns ceil(baseSamples / 2^level).
func LevelRows(baseSamples int64, level core.Level) int64 {
	f := int64(1) << uint(level)
	return (baseSamples + f - 1) / f
}

// WritePyramid writes levels 0..maxLevel, skipping those listed in skip.
// Level L holds ceil(baseSamples / 2^L) rows.
func WritePyramid(t testing.TB, dir, pattern string, st core.SampleType, baseSamples int64, channels int, maxLevel core.Level, fn ValueFunc, skip ...core.Level) {
	t.Helper()
	skipped := make(map[core.Level]bool, len(skip))
	for _, l := range skip {
		skipped[l] = true
	}
	for l := core.Level(0); l <= maxLevel; l++ {
		if skipped[l] {
			continue
		}
		WriteLevel(t, dir, pattern, l, st, int(LevelRows(baseSamples, l)), channels, fn)
	}
}
