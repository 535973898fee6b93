package verifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailprobe_smtp_probes_total",
			Help: "SMTP probes by outcome: reply class or failure.",
		},
		[]string{"outcome"},
	)
	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailprobe_verifications_total",
			Help: "Completed verifications by status.",
		},
		[]string{"status"},
	)
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailprobe_cache_lookups_total",
			Help: "Domain cache lookups by cache and result.",
		},
		[]string{"cache", "result"},
	)
	cooldownSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailprobe_domain_cooldown_seconds",
			Help:    "Time spent waiting for the per-domain cooldown.",
			Buckets: []float64{0, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)
)

func cacheResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
