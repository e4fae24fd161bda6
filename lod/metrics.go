package lod

import (
	"expvar"
	"sync"
	"time"

	"github.com/caio/go-tdigest/v4"

	"github.com/INLOpen/pyramid/internal/metricsutil"
)

// Metrics holds the controller counters and refetch latency distribution.
type Metrics struct {
	Extents      *expvar.Int
	Unchanged    *expvar.Int
	Refetches    *expvar.Int
	Retained     *expvar.Int
	Stale        *expvar.Int
	Errors       *expvar.Int
	Truncated    *expvar.Int
	CurrentLevel *expvar.Int
	FillFraction *expvar.Float
	LatencyHist  *expvar.Map

	mu      sync.Mutex
	latency *tdigest.TDigest
}

// NewMetrics creates controller metrics, registered with expvar under prefix
// when publishGlobally is true.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	newInt := metricsutil.IntFunc(publishGlobally)
	newFloat := metricsutil.FloatFunc(publishGlobally)
	m := &Metrics{
		Extents:      newInt(prefix + "lod_extents_total"),
		Unchanged:    newInt(prefix + "lod_unchanged_total"),
		Refetches:    newInt(prefix + "lod_refetches_total"),
		Retained:     newInt(prefix + "lod_retained_total"),
		Stale:        newInt(prefix + "lod_stale_results_total"),
		Errors:       newInt(prefix + "lod_errors_total"),
		Truncated:    newInt(prefix + "lod_truncated_frames_total"),
		CurrentLevel: newInt(prefix + "lod_current_level"),
		FillFraction: newFloat(prefix + "lod_fill_fraction"),
		LatencyHist:  metricsutil.NewLatencyHist(publishGlobally, prefix+"lod_refetch_latency_seconds"),
	}
	m.latency, _ = tdigest.New()
	if publishGlobally {
		metricsutil.PublishFunc(prefix+"lod_refetch_latency_quantiles", func() interface{} {
			return map[string]float64{
				"p50": m.LatencyQuantile(0.5),
				"p90": m.LatencyQuantile(0.9),
				"p99": m.LatencyQuantile(0.99),
			}
		})
	}
	return m
}

// ObserveRefetch records the duration of one refetch.
func (m *Metrics) ObserveRefetch(d time.Duration) {
	seconds := d.Seconds()
	metricsutil.ObserveLatency(m.LatencyHist, seconds)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latency != nil {
		_ = m.latency.Add(seconds)
	}
}

// LatencyQuantile returns the q-quantile of refetch latency in seconds, or 0
// before the first refetch.
func (m *Metrics) LatencyQuantile(q float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latency == nil || m.latency.Count() == 0 {
		return 0
	}
	return m.latency.Quantile(q)
}
