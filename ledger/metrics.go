package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	postingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Postings attempted by the engine, by kind and result",
	}, []string{"kind", "result"})

	postingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_posting_duration_seconds",
		Help:    "Time from validation to insert for a successful posting",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})
)
