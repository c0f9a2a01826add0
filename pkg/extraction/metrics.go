package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Specimen outcomes reported on morphfeatures_specimens_total.
const (
	StatusExtracted = "extracted"
	StatusNotFound  = "not_found"
	StatusFailed    = "failed"
)

// Metrics holds the pipeline instruments.
type Metrics struct {
	Specimens *prometheus.CounterVec
	Skips     *prometheus.CounterVec
	Duration  prometheus.Histogram
}

// NewMetrics registers the pipeline instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Specimens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "morphfeatures_specimens_total",
			Help: "Specimens processed, by outcome.",
		}, []string{"status"}),
		Skips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "morphfeatures_compartment_skips_total",
			Help: "Compartments left out of feature computation, by reason.",
		}, []string{"compartment", "reason"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "morphfeatures_specimen_duration_seconds",
			Help:    "Time to extract features for one specimen.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}
