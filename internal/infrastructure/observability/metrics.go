package observability

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_total",
			Help: "Reservation admission decisions by outcome",
		},
		[]string{"type", "outcome"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_transitions_total",
			Help: "Applied transaction status transitions",
		},
		[]string{"from", "to", "applied"},
	)

	SweepCandidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_candidates_total",
			Help: "Expiration sweep candidates by outcome",
		},
		[]string{"outcome"},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of expiration sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Best-effort notification deliveries that failed",
		},
		[]string{"audience", "event_type"},
	)

	LowStockEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "low_stock_events_total",
			Help: "Low stock threshold crossings",
		},
		[]string{"currency", "level"},
	)
)

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		ReservationsTotal,
		TransitionsTotal,
		SweepCandidates,
		SweepDuration,
		NotificationFailures,
		LowStockEvents,
	)
}

// InitMetrics registers the collectors and serves them on addr.
func InitMetrics(addr string) {
	RegisterMetrics(prometheus.DefaultRegisterer)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
}
