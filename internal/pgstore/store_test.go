package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"staybook/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		overlap bool
	}{
		{name: "exclusion", err: &pgconn.PgError{Code: sqlStateExclusionViolation}, overlap: true},
		{name: "serialization", err: &pgconn.PgError{Code: sqlStateSerialization}, overlap: true},
		{name: "deadlock", err: fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: sqlStateDeadlock}), overlap: true},
		{name: "unique on other index", err: &pgconn.PgError{Code: sqlStateUniqueViolation, ConstraintName: "reservations_pkey"}},
		{name: "plain", err: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapWriteError("op", tt.err)
			assert.Equal(t, tt.overlap, errors.Is(err, models.ErrOverlap))
		})
	}

	assert.True(t, isIdempotencyViolation(&pgconn.PgError{Code: sqlStateUniqueViolation, ConstraintName: idempotencyConstraint}))
	assert.False(t, isIdempotencyViolation(&pgconn.PgError{Code: sqlStateUniqueViolation, ConstraintName: "other"}))
}

// newTestStore connects to TEST_DATABASE_URL, migrates and truncates.
// Skipped when the variable is not set.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}

	logger := zerolog.Nop()
	ctx := context.Background()
	s, err := New(ctx, dsn, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(ctx))
	_, err = s.pool.Exec(ctx, `TRUNCATE reservations`)
	require.NoError(t, err)
	return s
}

var createdAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newReservation(t *testing.T, propertyID, in, out, guestID, key string) models.NewReservation {
	t.Helper()
	rng, err := models.ParseDateRange(in, out)
	require.NoError(t, err)
	return models.NewReservation{
		ID:              uuid.NewString(),
		PropertyID:      propertyID,
		Range:           rng,
		GuestID:         guestID,
		IdempotencyKey:  key,
		Amount:          int64(rng.Nights()) * 10000,
		Currency:        "EUR",
		CreatedAt:       createdAt,
		PaymentDeadline: createdAt.Add(models.DefaultPaymentWindow),
	}
}

func TestStore_Integration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("HalfOpenRanges", func(t *testing.T) {
		first, err := s.TryCreate(ctx, newReservation(t, "42", "2025-07-01", "2025-07-05", "guest-a", ""))
		require.NoError(t, err)
		_, err = s.Transition(ctx, first.ID, models.StatusPendingPayment, models.StatusConfirmed)
		require.NoError(t, err)

		_, err = s.TryCreate(ctx, newReservation(t, "42", "2025-07-05", "2025-07-08", "guest-b", ""))
		require.NoError(t, err)

		_, err = s.TryCreate(ctx, newReservation(t, "42", "2025-07-04", "2025-07-06", "guest-c", ""))
		assert.ErrorIs(t, err, models.ErrOverlap)
	})

	t.Run("Idempotency", func(t *testing.T) {
		in := newReservation(t, "prop-i", "2025-07-01", "2025-07-03", "guest-1", "key-1")
		created, err := s.TryCreate(ctx, in)
		require.NoError(t, err)

		retry := in
		retry.ID = uuid.NewString()
		stored, err := s.TryCreate(ctx, retry)
		assert.ErrorIs(t, err, models.ErrIdempotentReplay)
		assert.Equal(t, created.ID, stored.ID)

		_, err = s.TryCreate(ctx, newReservation(t, "prop-i", "2025-09-01", "2025-09-02", "guest-1", "key-1"))
		assert.ErrorIs(t, err, models.ErrIdempotencyMismatch)
	})

	t.Run("ConcurrentCreate", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.TryCreate(ctx, newReservation(t, "prop-c", "2025-07-01", "2025-07-04", fmt.Sprintf("g-%d", i), ""))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		wins := 0
		for err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, models.ErrOverlap)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("SweepReleases", func(t *testing.T) {
		r, err := s.TryCreate(ctx, newReservation(t, "prop-s", "2025-07-01", "2025-07-04", "guest-1", ""))
		require.NoError(t, err)

		var expired []string
		for got, err := range s.SweepExpired(ctx, createdAt.Add(time.Hour)) {
			require.NoError(t, err)
			expired = append(expired, got.ID)
		}
		assert.Contains(t, expired, r.ID)

		busy, err := s.CheckOverlap(ctx, "prop-s", r.Range)
		require.NoError(t, err)
		assert.False(t, busy)

		_, err = s.Transition(ctx, r.ID, models.StatusPendingPayment, models.StatusConfirmed)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("AttachPaymentIntent", func(t *testing.T) {
		r, err := s.TryCreate(ctx, newReservation(t, "prop-p", "2025-07-01", "2025-07-02", "guest-1", ""))
		require.NoError(t, err)
		require.NoError(t, s.AttachPaymentIntent(ctx, r.ID, "pi_1"))
		assert.ErrorIs(t, s.AttachPaymentIntent(ctx, r.ID, "pi_2"), models.ErrIntentAttached)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = s.Get(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
