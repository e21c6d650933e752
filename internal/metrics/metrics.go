// Package metrics defines the Prometheus metrics exported by the
// activation service. Naming follows Prometheus conventions: a
// jitaccess_ prefix, _total for counters, _seconds for duration
// histograms.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ActivationsTotal counts completed activations by kind (self/mpa) and
	// terminal outcome ("success" for ACTIVATED, "failure" for REJECTED or
	// EXPIRED).
	ActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jitaccess_activations_total",
			Help: "Total activation requests by kind and terminal outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// ActivationDurationSeconds is a histogram of wall-clock time from
	// PENDING to a terminal state, by kind.
	ActivationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jitaccess_activation_duration_seconds",
			Help:    "Wall-clock time from request to terminal state, by kind.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"kind"},
	)

	// ProvisioningRetriesTotal counts IAM policy write retries by outcome
	// (the provisioner's optimistic-concurrency loop in C3).
	ProvisioningRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jitaccess_provisioning_retries_total",
			Help: "Total IAM policy write retries, by final outcome.",
		},
		[]string{"outcome"},
	)

	// NotificationFailuresTotal counts notification sink failures; these
	// never fail the activation itself (spec's fire-and-forget design) but
	// are worth alerting on.
	NotificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jitaccess_notification_failures_total",
			Help: "Total notification delivery failures by message kind.",
		},
		[]string{"kind"},
	)

	// PendingMpaRequests is the number of MPA requests issued but not yet
	// approved or expired, estimated from issuance/terminal counters rather
	// than any server-side store (the design is stateless).
	PendingMpaRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jitaccess_pending_mpa_requests",
			Help: "Estimated number of MPA requests awaiting approval.",
		},
	)
)

// Registry is this service's own collector registry rather than the global
// default, so cmd/jitaccess controls exactly what the /metrics endpoint
// exposes.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ActivationsTotal,
		ActivationDurationSeconds,
		ProvisioningRetriesTotal,
		NotificationFailuresTotal,
		PendingMpaRequests,
	)
}

// RecordActivation records a terminal activation outcome and its duration.
func RecordActivation(kind, outcome string, duration time.Duration) {
	ActivationsTotal.WithLabelValues(kind, outcome).Inc()
	ActivationDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordProvisioningRetry records one event of the IAM policy CAS loop:
// "conflict" for each failed write that is retried, then one final outcome
// ("success", "already_exists" or "exhausted").
func RecordProvisioningRetry(outcome string) {
	ProvisioningRetriesTotal.WithLabelValues(outcome).Inc()
}

// RecordNotificationFailure records a failed notification delivery.
func RecordNotificationFailure(kind string) {
	NotificationFailuresTotal.WithLabelValues(kind).Inc()
}
