package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/INLOpen/pyramid/core"
)

// parseScript reads one viewport extent per line as "tmin tmax". Blank lines
// and lines starting with '#' are skipped.
func parseScript(r io.Reader) ([]core.TimeWindow, error) {
	var extents []core.TimeWindow
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 fields, got %d", lineNo, len(fields))
		}
		tmin, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid tmin: %w", lineNo, err)
		}
		tmax, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid tmax: %w", lineNo, err)
		}
		extents = append(extents, core.TimeWindow{Min: tmin, Max: tmax})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return extents, nil
}

// sweep generates a pan to the right followed by a zoom out around the
// final position. Each pan step moves the window by panFraction of its
// width; each zoom step multiplies the width by zoomFactor.
func sweep(start, width float64, panSteps int, panFraction float64, zoomSteps int, zoomFactor float64) []core.TimeWindow {
	extents := make([]core.TimeWindow, 0, 1+panSteps+zoomSteps)
	w := core.TimeWindow{Min: start, Max: start + width}
	extents = append(extents, w)
	for i := 0; i < panSteps; i++ {
		shift := w.Width() * panFraction
		w = core.TimeWindow{Min: w.Min + shift, Max: w.Max + shift}
		extents = append(extents, w)
	}
	for i := 0; i < zoomSteps; i++ {
		center := (w.Min + w.Max) / 2
		half := w.Width() * zoomFactor / 2
		w = core.TimeWindow{Min: center - half, Max: center + half}
		extents = append(extents, w)
	}
	return extents
}
