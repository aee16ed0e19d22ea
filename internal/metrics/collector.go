package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Low cardinality only: no alert IDs or identities in labels.
var (
	AlertsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_alerts_active",
		Help: "Current number of active alerts",
	})

	AlertsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_alerts_created_total",
		Help: "Total alerts raised",
	})

	AlertsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_alerts_resolved_total",
		Help: "Total alerts resolved by a human actor",
	})

	AlertsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_alerts_expired_total",
		Help: "Total alerts auto-expired by the sweeper",
	})

	Acknowledgments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_acknowledgments_total",
		Help: "Total acknowledgment confirmations recorded",
	})

	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_chat_messages_total",
		Help: "Total chat messages posted",
	})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_transient_publish_failures_total",
		Help: "Transient channel publishes dropped after retries",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardian_sweep_duration_seconds",
		Help:    "Wall time of one expiration sweep",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_ws_sessions_active",
		Help: "Currently connected alert viewers",
	})
)
