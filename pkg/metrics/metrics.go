package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Reservation flow metrics
	LockAcquisitions  *prometheus.CounterVec
	CodesIssued       prometheus.Counter
	CodeVerifications *prometheus.CounterVec
	BookingsConfirmed prometheus.Counter
	BookingsCancelled prometheus.Counter
	BookingsExpired   prometheus.Counter

	// Audit outbox metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec

	// Redis metrics
	RedisOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		LockAcquisitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "slot_lock_acquisitions_total",
			Help:      "Slot lock acquisition attempts by outcome",
		}, []string{"outcome"}),
		CodesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "verification_codes_issued_total",
			Help:      "Total number of one-time codes issued",
		}),
		CodeVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "code_verifications_total",
			Help:      "One-time code verification attempts by result",
		}, []string{"result"}),
		BookingsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bookings_confirmed_total",
			Help:      "Total number of durably confirmed bookings",
		}),
		BookingsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bookings_cancelled_total",
			Help:      "Total number of explicitly cancelled bookings",
		}),
		BookingsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bookings_expired_total",
			Help:      "Bookings whose lock expired before confirmation",
		}),

		OutboxEventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully published audit events",
		}),
		OutboxEventsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of audit events that failed to publish",
		}),
		OutboxProcessingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent publishing audit event batches",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		RedisOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "redis_operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),
	}
}
