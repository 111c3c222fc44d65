package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip and drop reasons used as metric labels.
const (
	SkipNoMatch       = "no_match"
	SkipResolverError = "resolver_error"

	DropBufferFull  = "buffer_full"
	DropBreakerOpen = "breaker_open"
	DropClosed      = "closed"
)

// AuditMetrics holds the audit pipeline collectors.
type AuditMetrics struct {
	Records       *prometheus.CounterVec
	Skipped       *prometheus.CounterVec
	WriteFailures prometheus.Counter
	Dropped       *prometheus.CounterVec
	WriteDuration prometheus.Histogram
}

// NewAuditMetrics registers the audit collectors on reg. A nil reg creates
// unregistered collectors, which is what tests want.
func NewAuditMetrics(reg prometheus.Registerer) *AuditMetrics {
	factory := promauto.With(reg)

	return &AuditMetrics{
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nms_audit_records_total",
			Help: "Audit records written, by outcome of the audited request",
		}, []string{"status"}),
		Skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nms_audit_skipped_total",
			Help: "Mutating requests that produced no audit record",
		}, []string{"reason"}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "nms_audit_write_failures_total",
			Help: "Audit records the store failed to persist",
		}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nms_audit_dropped_total",
			Help: "Audit records dropped before reaching the store",
		}, []string{"reason"}),
		WriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nms_audit_write_duration_seconds",
			Help:    "Time spent persisting one audit record",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
