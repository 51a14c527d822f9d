package agentlog

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposed on METRICS_ADDR when set; the listener is optional and
// env-gated rather than a mandatory subsystem.
var (
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "networktools_tick_duration_seconds",
		Help:    "Duration of a single reconciliation tick.",
		Buckets: prometheus.DefBuckets,
	})
	TickFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "networktools_tick_failures_total",
		Help: "Number of reconciliation ticks that aborted with an error.",
	})
	DevicesChanged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "networktools_devices_changed_total",
		Help: "Number of WireGuard/veth device create or destroy operations issued.",
	})
	RulesChanged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "networktools_iptables_rules_changed_total",
		Help: "Number of iptables rule insertions or deletions issued.",
	})
	PingSamples = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "networktools_ping_trimmed_mean_ms",
		Help: "Most recent trimmed-mean ping result per peer interface.",
	}, []string{"ifname"})
)

// ServeMetrics starts a blocking HTTP server exposing the default registry.
// Callers run it in a goroutine; errors are logged by the caller.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
