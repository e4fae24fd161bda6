package store

import (
	"expvar"

	"github.com/INLOpen/pyramid/internal/metricsutil"
)

// Metrics holds the expvar counters of a Store.
type Metrics struct {
	Opens       *expvar.Int
	Missing     *expvar.Int
	Evictions   *expvar.Int
	CacheHits   *expvar.Int
	CacheMisses *expvar.Int
	MappedBytes *expvar.Int
	OpenLevels  *expvar.Int
}

// NewMetrics creates store metrics. When publishGlobally is true the
// counters are registered with expvar under prefix.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	newInt := metricsutil.IntFunc(publishGlobally)
	return &Metrics{
		Opens:       newInt(prefix + "store_level_opens_total"),
		Missing:     newInt(prefix + "store_level_missing_total"),
		Evictions:   newInt(prefix + "store_level_evictions_total"),
		CacheHits:   newInt(prefix + "store_cache_hits_total"),
		CacheMisses: newInt(prefix + "store_cache_misses_total"),
		MappedBytes: newInt(prefix + "store_mapped_bytes"),
		OpenLevels:  newInt(prefix + "store_open_levels"),
	}
}
