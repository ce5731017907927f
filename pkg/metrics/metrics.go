// Package metrics holds the Prometheus collectors of the console.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ekaya-inc/sqlai-console/pkg/models"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlai_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlai_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	toolAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlai_tool_attempts_total",
			Help: "Tool invocation attempts by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	toolRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlai_tool_retries_total",
			Help: "Tool invocation attempts beyond the first one.",
		},
		[]string{"tool"},
	)

	toolAttemptDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlai_tool_attempt_duration_seconds",
			Help:    "Duration of a single tool invocation attempt.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	scansFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlai_scans_finished_total",
			Help: "Scan jobs that reached a terminal status.",
		},
		[]string{"status"},
	)

	scanDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlai_scan_duration_seconds",
			Help:    "Time from scan start to completion as seen by the poller.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		toolAttemptsTotal,
		toolRetriesTotal,
		toolAttemptDurationSeconds,
		scansFinishedTotal,
		scanDurationSeconds,
	)
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// ObserveToolInvocation records one attempt. It matches toolclient.Observer.
func ObserveToolInvocation(inv models.ToolInvocation) {
	toolAttemptsTotal.WithLabelValues(inv.ToolName, string(inv.Outcome)).Inc()
	toolAttemptDurationSeconds.WithLabelValues(inv.ToolName).Observe(inv.Duration.Seconds())
	if inv.Attempt > 1 {
		toolRetriesTotal.WithLabelValues(inv.ToolName).Inc()
	}
}

// ObserveScanFinished records a terminal scan job.
func ObserveScanFinished(job models.ScanJob) {
	scansFinishedTotal.WithLabelValues(string(job.Status)).Inc()
	if job.Status == models.ScanStatusCompleted && job.CompletedAt != nil && !job.StartedAt.IsZero() {
		if d := job.CompletedAt.Sub(job.StartedAt); d > 0 {
			scanDurationSeconds.Observe(d.Seconds())
		}
	}
}
