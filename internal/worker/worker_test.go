package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"staybook/internal/database"
	"staybook/internal/events"
	"staybook/internal/models"
	"staybook/internal/repository"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var createdAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *database.DB
	cache    *repository.MemoryAvailabilityCache
	bus      *events.EventBus
	expired  []events.ReservationEventPayload
	logger   zerolog.Logger
	deadline time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{logger: zerolog.Nop(), deadline: createdAt.Add(models.DefaultPaymentWindow)}
	db, err := database.NewDB(":memory:", &f.logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f.db = db
	f.cache = repository.NewMemoryAvailabilityCache(time.Minute)
	f.bus = events.NewEventBus(nil)
	f.bus.Subscribe(events.EventBookingExpired, func(e *events.Event) error {
		var p events.ReservationEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		f.expired = append(f.expired, p)
		return nil
	})
	return f
}

func (f *fixture) hold(t *testing.T, propertyID, in, out string) *models.Reservation {
	t.Helper()
	rng, err := models.ParseDateRange(in, out)
	require.NoError(t, err)
	r, err := f.db.TryCreate(context.Background(), models.NewReservation{
		ID:              uuid.NewString(),
		PropertyID:      propertyID,
		Range:           rng,
		GuestID:         "guest",
		Amount:          1000,
		Currency:        "EUR",
		CreatedAt:       createdAt,
		PaymentDeadline: f.deadline,
	})
	require.NoError(t, err)
	return r
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2}
	assert.True(t, policy.ShouldRetry(1))
	assert.True(t, policy.ShouldRetry(2))
	assert.False(t, policy.ShouldRetry(3))

	assert.Equal(t, models.DefaultBackoffBase, RetryPolicy{}.NextDelay(0))
	assert.Equal(t, models.DefaultBackoffCap, RetryPolicy{}.NextDelay(64))
}

func TestRetryPolicyJitteredDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: models.DefaultBackoffBase, BackoffFactor: 2, MaxDelay: models.DefaultBackoffCap}
	for attempt := 1; attempt <= 6; attempt++ {
		for range 50 {
			d := policy.JitteredDelay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, policy.NextDelay(attempt))
			assert.LessOrEqual(t, d, models.DefaultBackoffCap)
		}
	}
}

func TestSweeper_RunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.hold(t, "42", "2025-07-01", "2025-07-05")
	b := f.hold(t, "42", "2025-07-10", "2025-07-12")
	paid := f.hold(t, "43", "2025-07-01", "2025-07-05")
	_, err := f.db.Transition(ctx, paid.ID, models.StatusPendingPayment, models.StatusConfirmed)
	require.NoError(t, err)

	// cached "busy" verdict for a's range must be orphaned by the sweep
	entry, err := f.cache.Get(ctx, "42", a.Range)
	require.NoError(t, err)
	require.NoError(t, f.cache.Put(ctx, entry, false))

	sweeper := NewExpirySweeper(f.db, f.cache, f.bus, time.Minute, &f.logger)

	n, err := sweeper.RunOnce(ctx, f.deadline.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing is overdue before the deadline")

	n, err = sweeper.RunOnce(ctx, f.deadline.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{a.ID, b.ID} {
		got, err := f.db.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusExpired, got.Status)
	}
	got, err := f.db.Get(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	after, err := f.cache.Get(ctx, "42", a.Range)
	require.NoError(t, err)
	assert.False(t, after.Hit)

	require.Len(t, f.expired, 2)
	assert.Equal(t, "sweeper", f.expired[0].Source)

	busy, err := f.db.CheckOverlap(ctx, "42", a.Range)
	require.NoError(t, err)
	assert.False(t, busy, "expired holds release their nights")

	n, err = sweeper.RunOnce(ctx, f.deadline.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second sweep is a no-op")
}

func TestSweeper_StartStops(t *testing.T) {
	f := newFixture(t)
	f.deadline = time.Now().Add(-time.Minute)
	f.hold(t, "42", "2025-07-01", "2025-07-05")

	sweeper := NewExpirySweeper(f.db, f.cache, f.bus, 10*time.Millisecond, &f.logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		busy, err := f.db.CheckOverlap(context.Background(), "42", models.DateRange{
			CheckIn:  time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
			CheckOut: time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC),
		})
		return err == nil && !busy
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestNewExpireTask(t *testing.T) {
	r := &models.Reservation{ID: "r-1", PaymentDeadline: createdAt.Add(models.DefaultPaymentWindow)}
	task, opts, err := NewExpireTask(r)
	require.NoError(t, err)
	assert.Equal(t, TypeReservationExpire, task.Type())
	assert.JSONEq(t, `{"reservation_id":"r-1"}`, string(task.Payload()))

	byType := map[asynq.OptionType]any{}
	for _, o := range opts {
		byType[o.Type()] = o.Value()
	}
	assert.Equal(t, "expire:r-1", byType[asynq.TaskIDOpt])
	assert.Equal(t, 3, byType[asynq.MaxRetryOpt])
	assert.Equal(t, r.PaymentDeadline.Add(time.Second), byType[asynq.ProcessAtOpt])
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "expire:x", Type: task.Type()}, nil
}

func TestExpiryTaskScheduler(t *testing.T) {
	logger := zerolog.Nop()
	r := &models.Reservation{ID: "r-1", PaymentDeadline: createdAt}

	t.Run("Enqueues", func(t *testing.T) {
		q := &fakeEnqueuer{}
		s := &ExpiryTaskScheduler{client: q, logger: logger}
		require.NoError(t, s.ScheduleExpiry(context.Background(), r))
		assert.Len(t, q.tasks, 1)
	})

	t.Run("DuplicateIsNotAnError", func(t *testing.T) {
		s := &ExpiryTaskScheduler{client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}, logger: logger}
		assert.NoError(t, s.ScheduleExpiry(context.Background(), r))
	})

	t.Run("QueueDown", func(t *testing.T) {
		s := &ExpiryTaskScheduler{client: &fakeEnqueuer{err: errors.New("dial tcp: refused")}, logger: logger}
		assert.Error(t, s.ScheduleExpiry(context.Background(), r))
	})
}

func TestExpiryTaskHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewExpiryTaskHandler(f.db, f.cache, f.bus, &f.logger)

	taskFor := func(id string) *asynq.Task {
		task, _, err := NewExpireTask(&models.Reservation{ID: id})
		require.NoError(t, err)
		return task
	}

	t.Run("EarlyFireKeepsHold", func(t *testing.T) {
		r := f.hold(t, "1", "2025-07-01", "2025-07-03")
		h.now = func() time.Time { return f.deadline.Add(-time.Second) }
		require.NoError(t, h.ProcessTask(ctx, taskFor(r.ID)))

		got, err := f.db.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPendingPayment, got.Status)
	})

	t.Run("ExpiresOverdueHold", func(t *testing.T) {
		r := f.hold(t, "2", "2025-07-01", "2025-07-03")
		h.now = func() time.Time { return f.deadline.Add(time.Second) }
		require.NoError(t, h.ProcessTask(ctx, taskFor(r.ID)))

		got, err := f.db.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusExpired, got.Status)
		require.NotEmpty(t, f.expired)
		assert.Equal(t, "expiry_task", f.expired[len(f.expired)-1].Source)
	})

	t.Run("ConfirmedHoldUntouched", func(t *testing.T) {
		r := f.hold(t, "3", "2025-07-01", "2025-07-03")
		_, err := f.db.Transition(ctx, r.ID, models.StatusPendingPayment, models.StatusConfirmed)
		require.NoError(t, err)
		h.now = func() time.Time { return f.deadline.Add(time.Hour) }
		require.NoError(t, h.ProcessTask(ctx, taskFor(r.ID)))

		got, err := f.db.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, got.Status)
	})

	t.Run("UnknownReservation", func(t *testing.T) {
		assert.NoError(t, h.ProcessTask(ctx, taskFor(uuid.NewString())))
	})

	t.Run("BadPayloadSkipsRetry", func(t *testing.T) {
		err := h.ProcessTask(ctx, asynq.NewTask(TypeReservationExpire, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}
