package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("POST /", "201")
		IncCache("hit")
		ObserveAvailability(0.004)
		IncSweepRun("ok")
		IncPaymentIntent("error")
		IncTransition("CONFIRMED")
		IncCreateRetry()
	})

	before := testutil.ToFloat64(bookings.WithLabelValues("created"))
	IncBooking("created")
	assert.Equal(t, before+1, testutil.ToFloat64(bookings.WithLabelValues("created")))

	before = testutil.ToFloat64(sweepExpired)
	AddExpired(3)
	assert.Equal(t, before+3, testutil.ToFloat64(sweepExpired))

	before = testutil.ToFloat64(overlapConflicts)
	IncOverlap()
	assert.Equal(t, before+1, testutil.ToFloat64(overlapConflicts))
}
