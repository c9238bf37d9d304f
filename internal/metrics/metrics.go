package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "staybook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome (created, replayed, unavailable, rejected).",
		},
		[]string{"outcome"},
	)

	createRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_create_retries_total",
			Help:      "Create attempts retried after a write conflict.",
		},
	)

	overlapConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlap_conflicts_total",
			Help:      "Ledger inserts rejected by the interval-exclusion constraint.",
		},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Reservation status transitions by target status.",
		},
		[]string{"to"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_cache_lookups_total",
			Help:      "Availability cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	availabilityLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "availability_check_seconds",
			Help:      "Latency of availability checks.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .15, .25, .5, 1},
		},
	)

	sweepExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_expired_total",
			Help:      "Reservations expired by the sweeper.",
		},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_runs_total",
			Help:      "Sweeper runs by result.",
		},
		[]string{"result"},
	)

	paymentIntents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intents_total",
			Help:      "Payment intent requests by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookings,
			createRetries,
			overlapConflicts,
			transitions,
			cacheLookups,
			availabilityLatency,
			sweepExpired,
			sweepRuns,
			paymentIntents,
		)
	})
}

// IncHTTP increments the counter for a route and status code.
func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func IncBooking(outcome string) {
	bookings.WithLabelValues(outcome).Inc()
}

func IncCreateRetry() {
	createRetries.Inc()
}

func IncOverlap() {
	overlapConflicts.Inc()
}

func IncTransition(to string) {
	transitions.WithLabelValues(to).Inc()
}

func IncCache(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

func ObserveAvailability(seconds float64) {
	availabilityLatency.Observe(seconds)
}

func AddExpired(n int) {
	sweepExpired.Add(float64(n))
}

func IncSweepRun(result string) {
	sweepRuns.WithLabelValues(result).Inc()
}

func IncPaymentIntent(result string) {
	paymentIntents.WithLabelValues(result).Inc()
}
