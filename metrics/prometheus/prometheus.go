// Package prometheus provides a Prometheus-backed metrics.Collector. It is
// an optional import: nothing in the cache façades depends on this package
// directly.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sandrolain/respcache/metrics"
)

// Collector implements metrics.Collector with Prometheus counters,
// histograms, and gauges, all labelled by cache name.
type Collector struct {
	lookups      *prometheus.CounterVec
	lookupTime   *prometheus.HistogramVec
	stores       *prometheus.CounterVec
	storeTime    *prometheus.HistogramVec
	invalidation *prometheus.CounterVec
	rubberBrutto *prometheus.GaugeVec
	rubberNetto  *prometheus.GaugeVec
	entries      *prometheus.GaugeVec
}

// Config configures the registry and metric namespace.
type Config struct {
	// Registry is the registerer to attach collectors to. Defaults to
	// prometheus.DefaultRegisterer when nil.
	Registry prometheus.Registerer

	// Namespace prefixes every metric name. Defaults to "respcache".
	Namespace string
}

// New returns a Collector registered against the default registry.
func New() *Collector {
	return NewWithConfig(Config{})
}

// NewWithConfig returns a Collector registered per cfg.
func NewWithConfig(cfg Config) *Collector {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "respcache"
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "lookups_total",
			Help:      "Total cache lookups by result.",
		}, []string{"cache", "result"}),
		lookupTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Lookup latency by result.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"cache", "result"}),
		stores: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stores_total",
			Help:      "Total store attempts by result.",
		}, []string{"cache", "result"}),
		storeTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "store_duration_seconds",
			Help:      "Store latency by result.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"cache", "result"}),
		invalidation: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "invalidations_total",
			Help:      "Total invalidations by scope (key or tag).",
		}, []string{"cache", "scope"}),
		rubberBrutto: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "rubber_brutto_bytes",
			Help:      "Gross Rubber region size including holes.",
		}, []string{"cache"}),
		rubberNetto: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "rubber_netto_bytes",
			Help:      "Live Rubber bytes excluding holes.",
		}, []string{"cache"}),
		entries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "entries",
			Help:      "Current entry count.",
		}, []string{"cache"}),
	}
}

func (c *Collector) RecordLookup(cache, result string, duration time.Duration) {
	c.lookups.WithLabelValues(cache, result).Inc()
	c.lookupTime.WithLabelValues(cache, result).Observe(duration.Seconds())
}

func (c *Collector) RecordStore(cache, result string, duration time.Duration) {
	c.stores.WithLabelValues(cache, result).Inc()
	c.storeTime.WithLabelValues(cache, result).Observe(duration.Seconds())
}

func (c *Collector) RecordInvalidation(cache, scope string) {
	c.invalidation.WithLabelValues(cache, scope).Inc()
}

func (c *Collector) RecordRubberOccupancy(cache string, brutto, netto uint64) {
	c.rubberBrutto.WithLabelValues(cache).Set(float64(brutto))
	c.rubberNetto.WithLabelValues(cache).Set(float64(netto))
}

func (c *Collector) RecordCacheEntries(cache string, count int64) {
	c.entries.WithLabelValues(cache).Set(float64(count))
}

var _ metrics.Collector = (*Collector)(nil)
