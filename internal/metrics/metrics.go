package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "loft"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	lockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Reservation lock acquisitions by backend and result.",
		},
		[]string{"backend", "result"},
	)

	availabilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_checks_total",
			Help:      "Availability checks by result.",
		},
		[]string{"result"},
	)

	reservationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_duration_seconds",
			Help:      "Time spent creating a reservation.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	outboxDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Outbox deliveries by sink and result.",
		},
		[]string{"sink", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			reservations,
			lockAcquisitions,
			availabilityChecks,
			reservationDuration,
			outboxDeliveries,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveReservation records the outcome and latency of one reservation attempt.
func ObserveReservation(outcome string, started time.Time) {
	reservations.WithLabelValues(outcome).Inc()
	reservationDuration.Observe(time.Since(started).Seconds())
}

func IncLockAcquisition(backend, result string) {
	lockAcquisitions.WithLabelValues(backend, result).Inc()
}

func IncAvailabilityCheck(available bool) {
	result := "available"
	if !available {
		result = "unavailable"
	}
	availabilityChecks.WithLabelValues(result).Inc()
}

func IncOutboxDelivery(sink, result string) {
	outboxDeliveries.WithLabelValues(sink, result).Inc()
}
