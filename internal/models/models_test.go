package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRange(t *testing.T, in, out string) DateRange {
	t.Helper()
	r, err := ParseDateRange(in, out)
	require.NoError(t, err)
	return r
}

func TestDateRange(t *testing.T) {
	t.Run("NormalizesToUTCDay", func(t *testing.T) {
		loc := time.FixedZone("UTC+3", 3*3600)
		r := NewDateRange(time.Date(2025, 7, 1, 1, 30, 0, 0, loc), time.Date(2025, 7, 4, 23, 0, 0, 0, time.UTC))
		assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), r.CheckIn)
		assert.Equal(t, time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC), r.CheckOut)
	})

	t.Run("Nights", func(t *testing.T) {
		assert.Equal(t, 4, mustRange(t, "2025-07-01", "2025-07-05").Nights())
		assert.Equal(t, 30, mustRange(t, "2025-01-01", "2025-01-31").Nights())
	})

	t.Run("HalfOpenOverlap", func(t *testing.T) {
		a := mustRange(t, "2025-07-01", "2025-07-05")
		assert.False(t, a.Overlaps(mustRange(t, "2025-07-05", "2025-07-08")))
		assert.False(t, a.Overlaps(mustRange(t, "2025-06-28", "2025-07-01")))
		assert.True(t, a.Overlaps(mustRange(t, "2025-07-04", "2025-07-06")))
		assert.True(t, a.Overlaps(mustRange(t, "2025-06-01", "2025-08-01")))
	})

	t.Run("NightDates", func(t *testing.T) {
		nights := mustRange(t, "2025-07-30", "2025-08-02").NightDates()
		require.Len(t, nights, 3)
		assert.Equal(t, "2025-07-30", nights[0].Format(DateLayout))
		assert.Equal(t, "2025-08-01", nights[2].Format(DateLayout))
	})

	t.Run("JSON", func(t *testing.T) {
		r := mustRange(t, "2025-07-01", "2025-07-05")
		data, err := json.Marshal(r)
		require.NoError(t, err)
		assert.JSONEq(t, `{"check_in":"2025-07-01","check_out":"2025-07-05"}`, string(data))

		var back DateRange
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, back.Equal(r))

		err = json.Unmarshal([]byte(`{"check_in":"07/01/2025","check_out":"2025-07-05"}`), &back)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestDateRange_Validate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		out   string
		field string
	}{
		{name: "valid", in: "2025-07-01", out: "2025-07-05"},
		{name: "exactly max", in: "2025-07-01", out: "2025-07-31"},
		{name: "empty", in: "2025-07-01", out: "2025-07-01", field: "check_out"},
		{name: "reversed", in: "2025-07-05", out: "2025-07-01", field: "check_out"},
		{name: "too long", in: "2025-07-01", out: "2025-08-01", field: "range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mustRange(t, tt.in, tt.out).Validate(DefaultMaxNights)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.ErrorIs(t, DateRange{}.Validate(DefaultMaxNights), ErrValidation)
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPendingPayment, StatusConfirmed}: true,
		{StatusPendingPayment, StatusExpired}:   true,
		{StatusPendingPayment, StatusCancelled}: true,
		{StatusConfirmed, StatusCancelled}:      true,
	}
	all := []Status{StatusPendingPayment, StatusConfirmed, StatusExpired, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestReservation_ExpiredAt(t *testing.T) {
	deadline := time.Date(2025, 7, 1, 12, 15, 0, 0, time.UTC)
	r := &Reservation{Status: StatusPendingPayment, PaymentDeadline: deadline}

	assert.False(t, r.ExpiredAt(deadline))
	assert.True(t, r.ExpiredAt(deadline.Add(time.Second)))

	r.Status = StatusConfirmed
	assert.False(t, r.ExpiredAt(deadline.Add(time.Hour)))
}

func TestTransitionError(t *testing.T) {
	err := &TransitionError{ID: "r1", From: StatusPendingPayment, To: StatusConfirmed, Current: StatusExpired}
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "current status EXPIRED")
}
