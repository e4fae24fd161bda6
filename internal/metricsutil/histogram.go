package metricsutil

import (
	"expvar"
	"fmt"
)

// LatencyBuckets are the cumulative histogram bounds in seconds. Refetches
// are expected in the millisecond range.
var LatencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

// NewLatencyHist creates a histogram map with count, sum and one counter
// per bucket. When publish is true the map is registered under name.
func NewLatencyHist(publish bool, name string) *expvar.Map {
	var m *expvar.Map
	if publish {
		if existing, ok := expvar.Get(name).(*expvar.Map); ok {
			existing.Init()
			m = existing
		} else {
			m = expvar.NewMap(name)
		}
	} else {
		m = new(expvar.Map).Init()
	}
	m.Set("count", new(expvar.Int))
	m.Set("sum", new(expvar.Float))
	for _, b := range LatencyBuckets {
		m.Set(bucketName(b), new(expvar.Int))
	}
	m.Set("le_inf", new(expvar.Int))
	return m
}

// ObserveLatency records the duration in the provided histogram map.
func ObserveLatency(histMap *expvar.Map, durationSeconds float64) {
	if histMap == nil {
		return
	}
	if countInt, ok := histMap.Get("count").(*expvar.Int); ok {
		countInt.Add(1)
	}
	if sumFloat, ok := histMap.Get("sum").(*expvar.Float); ok {
		sumFloat.Add(durationSeconds)
	}
	// cumulative: a value counts in its bucket and every larger one
	for _, b := range LatencyBuckets {
		if durationSeconds <= b {
			if bucketInt, ok := histMap.Get(bucketName(b)).(*expvar.Int); ok {
				bucketInt.Add(1)
			}
		}
	}
	if infInt, ok := histMap.Get("le_inf").(*expvar.Int); ok {
		infInt.Add(1)
	}
}

func bucketName(b float64) string {
	return fmt.Sprintf("le_%.4f", b)
}
