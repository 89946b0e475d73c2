package patterncache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the pattern cache. A nil *Metrics
// records nothing.
type Metrics struct {
	LookupsTotal       *prometheus.CounterVec
	LookupDuration     prometheus.Histogram
	LearnsTotal        *prometheus.CounterVec
	EvictionsTotal     prometheus.Counter
	Entries            prometheus.Gauge
	PersistErrorsTotal *prometheus.CounterVec
}

// NewMetrics registers the metrics with the default registry once and
// returns the shared instance.
//
//   - pattern_cache_lookups_total{result} - bucket, scan or miss
//   - pattern_cache_lookup_duration_seconds
//   - pattern_cache_learns_total{kind} - new or repeat
//   - pattern_cache_evictions_total
//   - pattern_cache_entries
//   - pattern_cache_persist_errors_total{op} - load or save
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			LookupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pattern_cache_lookups_total",
				Help: "Pattern cache lookups by result",
			}, []string{"result"}),
			LookupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "pattern_cache_lookup_duration_seconds",
				Help:    "Time spent in FindSimilar",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			}),
			LearnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pattern_cache_learns_total",
				Help: "Learned extractions by kind",
			}, []string{"kind"}),
			EvictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pattern_cache_evictions_total",
				Help: "Entries removed by pruning",
			}),
			Entries: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "pattern_cache_entries",
				Help: "Current number of learned entries",
			}),
			PersistErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pattern_cache_persist_errors_total",
				Help: "Snapshot load and save failures",
			}, []string{"op"}),
		}
	})
	return globalMetrics
}

func (m *Metrics) recordLookup(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(result).Inc()
	m.LookupDuration.Observe(d.Seconds())
}

func (m *Metrics) recordLearn(kind string, evicted, size int) {
	if m == nil {
		return
	}
	m.LearnsTotal.WithLabelValues(kind).Inc()
	if evicted > 0 {
		m.EvictionsTotal.Add(float64(evicted))
	}
	m.Entries.Set(float64(size))
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.Entries.Set(float64(n))
}

func (m *Metrics) recordPersistError(op string) {
	if m == nil {
		return
	}
	m.PersistErrorsTotal.WithLabelValues(op).Inc()
}
