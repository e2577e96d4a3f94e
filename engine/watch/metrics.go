package watch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the watcher's Prometheus instruments. A nil-safe no-op
// variant backs tests and library use without a registry.
type Metrics struct {
	lookups  *prometheus.CounterVec
	duration prometheus.Histogram
	daysLeft *prometheus.GaugeVec
}

// NewMetrics registers the watcher metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "itpwatch_lookups_total",
			Help: "Completed scheduled lookups by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "itpwatch_lookup_duration_seconds",
			Help:    "Wall time of one scheduled lookup including retries.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		daysLeft: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "itpwatch_days_until_expiration",
			Help: "Signed days until the inspection expires, per vehicle.",
		}, []string{"vin"}),
	}
}

// NopMetrics returns metrics that record nothing.
func NopMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) countLookup(outcome string) {
	if m.lookups != nil {
		m.lookups.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) observeDuration(d time.Duration) {
	if m.duration != nil {
		m.duration.Observe(d.Seconds())
	}
}

func (m *Metrics) setDaysLeft(vin string, days int) {
	if m.daysLeft != nil {
		m.daysLeft.WithLabelValues(vin).Set(float64(days))
	}
}
