package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_confirmations_total",
			Help: "Confirm calls by resulting pair state",
		},
		[]string{"state"},
	)
	Finalizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_finalizations_total",
			Help: "Mutual-confirmation finalize attempts by outcome",
		},
		[]string{"outcome"},
	)
	ProgressionsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progressions_applied_total",
			Help: "Counter increments applied, by field",
		},
		[]string{"field"},
	)
	InconsistentMirrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inconsistent_mirrors_total",
			Help: "Mirror events that contradicted their owner's copy",
		},
	)
	StoreRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_retries_total",
			Help: "Retries of transient store failures, by operation",
		},
		[]string{"op"},
	)
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Push notifications dispatched, by type and result",
		},
		[]string{"type", "result"},
	)
)

// Register adds the domain metrics to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		Confirmations,
		Finalizations,
		ProgressionsApplied,
		InconsistentMirrors,
		StoreRetries,
		NotificationsSent,
	)
}
