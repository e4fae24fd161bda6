package lod

import "github.com/INLOpen/pyramid/core"

// Select returns the finest level in [minLevel, maxLevel] at which window
// spans at most capacity samples. When none does, maxLevel is returned and
// the caller has to truncate.
func Select(window core.TimeWindow, capacity int, minLevel, maxLevel core.Level, mapper core.IndexMapper) core.Level {
	if minLevel < 0 {
		minLevel = 0
	}
	if minLevel > maxLevel {
		return maxLevel
	}
	for l := minLevel; l <= maxLevel; l++ {
		if mapper.Count(l, window) <= int64(capacity) {
			return l
		}
	}
	return maxLevel
}

// Candidates returns the level Select picks followed by every coarser level
// up to maxLevel: the order in which levels are tried when files are missing.
func Candidates(window core.TimeWindow, capacity int, minLevel, maxLevel core.Level, mapper core.IndexMapper) []core.Level {
	first := Select(window, capacity, minLevel, maxLevel, mapper)
	levels := make([]core.Level, 0, int(maxLevel-first)+1)
	for l := first; l <= maxLevel; l++ {
		levels = append(levels, l)
	}
	return levels
}
