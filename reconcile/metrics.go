package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	orphansDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_orphans_detected_total",
		Help: "Orphaned rows found by reconciliation, by table",
	}, []string{"table"})

	orphansRepaired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_orphans_repaired_total",
		Help: "Orphaned rows deleted by reconciliation, by table",
	}, []string{"table"})
)
