package core

import "math"

// IndexMapper converts between continuous time and sample indices at a
// resolution level. It is a pure value; the zero value is not usable.
type IndexMapper struct {
	// BaseSampleRate is the sampling rate of level 0 in Hz.
	BaseSampleRate float64
}

// NewIndexMapper creates a mapper for a recording sampled at baseSampleRate Hz.
func NewIndexMapper(baseSampleRate float64) IndexMapper {
	return IndexMapper{BaseSampleRate: baseSampleRate}
}

// TimeToIndex returns round(t * rate / 2^level).
//
// Ties are rounded half away from zero (math.Round). The same rule is applied
// to both ends of a window, so a non-empty window maps to a non-empty range
// unless the level is coarse enough to collapse it. Indices beyond the int64
// range saturate at math.MaxInt64 and math.MinInt64, so the mapping stays
// monotone for every finite t.
func (m IndexMapper) TimeToIndex(level Level, t float64) int64 {
	x := math.Round(t * m.BaseSampleRate / level.Factor())
	switch {
	case x >= math.MaxInt64:
		return math.MaxInt64
	case x <= math.MinInt64:
		return math.MinInt64
	case math.IsNaN(x):
		return 0
	}
	return int64(x)
}

// IndexToTime is the inverse mapping of TimeToIndex, without rounding.
func (m IndexMapper) IndexToTime(level Level, i int64) float64 {
	return float64(i) * level.Factor() / m.BaseSampleRate
}

// Range maps a time window to its sample range at level.
func (m IndexMapper) Range(level Level, w TimeWindow) SampleRange {
	return SampleRange{
		Level: level,
		Start: m.TimeToIndex(level, w.Min),
		End:   m.TimeToIndex(level, w.Max),
	}
}

// Count returns the number of samples the window spans at level.
// Saturated endpoints never make it wrap around.
func (m IndexMapper) Count(level Level, w TimeWindow) int64 {
	start, end := m.TimeToIndex(level, w.Min), m.TimeToIndex(level, w.Max)
	if n := end - start; (n < 0) == (end < start) {
		return n
	}
	if end < start {
		return math.MinInt64
	}
	return math.MaxInt64
}
