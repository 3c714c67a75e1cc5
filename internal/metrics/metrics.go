// Package metrics holds the Prometheus collectors for the verifier.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_submissions_total",
			Help: "Submissions by result (dispatched, pending, reused or the rejecting stage)",
		},
		[]string{"result"},
	)

	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_probes_total",
			Help: "Probe send attempts by result",
		},
		[]string{"result"},
	)

	ProbeSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verifier_probe_send_duration_seconds",
			Help:    "Time spent handing a probe to the transport",
			Buckets: prometheus.DefBuckets,
		},
	)

	MXLookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verifier_mx_lookup_duration_seconds",
			Help:    "MX resolution time by result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	EvidenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_evidence_total",
			Help: "Bounce evidence by source and correlation result (resolved, noop, mismatch)",
		},
		[]string{"source", "result"},
	)

	TimedOutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "verifier_timed_out_total",
			Help: "Pending records moved to timed_out by the sweeper",
		},
	)

	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_mailbox_scans_total",
			Help: "Mailbox scans by result",
		},
		[]string{"result"},
	)

	// Standard HTTP metrics recorded by middleware.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			ProbesTotal,
			ProbeSendDuration,
			MXLookupDuration,
			EvidenceTotal,
			TimedOutTotal,
			ScansTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}
