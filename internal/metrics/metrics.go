// Package metrics exposes Prometheus collectors for sync runs and
// notification dispatch, served over a dedicated HTTP listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetd_sync_runs_total",
			Help: "Total sync runs by server and outcome status",
		},
		[]string{"server", "status"},
	)

	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "budgetd_sync_duration_seconds",
			Help:    "Duration of sync runs by server",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"server"},
	)

	AccountSyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetd_account_syncs_total",
			Help: "Total per-account sync attempts by server and result",
		},
		[]string{"server", "result"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetd_notifications_total",
			Help: "Total notification channel deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)

	NotificationsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetd_notifications_suppressed_total",
			Help: "Total suppressed notifications by reason",
		},
		[]string{"reason"},
	)

	LastRunTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "budgetd_last_run_timestamp_seconds",
			Help: "Unix time of the last completed sync run by server",
		},
		[]string{"server"},
	)

	ConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "budgetd_consecutive_failures",
			Help: "Current consecutive full-failure count by server",
		},
		[]string{"server"},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(
		SyncRunsTotal,
		SyncDuration,
		AccountSyncsTotal,
		NotificationsTotal,
		NotificationsSuppressedTotal,
		LastRunTimestamp,
		ConsecutiveFailures,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer creates an HTTP server exposing /metrics on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
