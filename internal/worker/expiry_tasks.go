package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypeReservationExpire is the asynq task type for a single-hold expiry check.
const TypeReservationExpire = "reservation:expire"

// expiryGrace delays the task past the deadline so ExpiredAt is already true.
const expiryGrace = time.Second

type expirePayload struct {
	ReservationID string `json:"reservation_id"`
}

// NewExpireTask builds the task and its options for reservation r.
func NewExpireTask(r *models.Reservation) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(expirePayload{ReservationID: r.ID})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID("expire:" + r.ID),
		asynq.ProcessAt(r.PaymentDeadline.Add(expiryGrace)),
		asynq.MaxRetry(3),
	}
	return asynq.NewTask(TypeReservationExpire, b), opts, nil
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ExpiryTaskScheduler enqueues an expiry check at each hold's deadline.
// The periodic sweeper stays the safety net when the queue is unavailable.
type ExpiryTaskScheduler struct {
	client taskEnqueuer
	logger zerolog.Logger
}

func NewExpiryTaskScheduler(client *asynq.Client, logger *zerolog.Logger) *ExpiryTaskScheduler {
	return &ExpiryTaskScheduler{
		client: client,
		logger: logger.With().Str("component", "expiry_scheduler").Logger(),
	}
}

func (s *ExpiryTaskScheduler) ScheduleExpiry(ctx context.Context, r *models.Reservation) error {
	task, opts, err := NewExpireTask(r)
	if err != nil {
		return fmt.Errorf("build expiry task: %w", err)
	}
	info, err := s.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue expiry task: %w", err)
	}
	s.logger.Debug().Str("reservation_id", r.ID).Str("task_id", info.ID).Time("process_at", info.NextProcessAt).Msg("Expiry task scheduled")
	return nil
}

// ExpiryTaskHandler expires one hold when its task fires.
type ExpiryTaskHandler struct {
	store   domain.IntervalStore
	effects expiryEffects
	logger  zerolog.Logger
	now     func() time.Time
}

func NewExpiryTaskHandler(
	store domain.IntervalStore,
	cache domain.AvailabilityCache,
	publisher domain.EventPublisher,
	logger *zerolog.Logger,
) *ExpiryTaskHandler {
	l := logger.With().Str("component", "expiry_worker").Logger()
	return &ExpiryTaskHandler{
		store:   store,
		effects: expiryEffects{cache: cache, events: publisher, logger: l},
		logger:  l,
		now:     time.Now,
	}
}

// ProcessTask implements asynq.Handler.
func (h *ExpiryTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p expirePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode expiry payload: %v: %w", err, asynq.SkipRetry)
	}

	r, err := h.store.Get(ctx, p.ReservationID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if r.Status != models.StatusPendingPayment {
		return nil
	}
	if !r.ExpiredAt(h.now()) {
		// Fired early (clock skew); the sweeper picks it up later.
		return nil
	}

	expired, err := h.store.Transition(ctx, r.ID, models.StatusPendingPayment, models.StatusExpired)
	if errors.Is(err, models.ErrInvalidTransition) {
		h.logger.Debug().Str("reservation_id", r.ID).Msg("Hold resolved before expiry task ran")
		return nil
	}
	if err != nil {
		return err
	}

	h.effects.apply(ctx, expired, "expiry_task")
	return nil
}

// NewExpiryWorker builds an asynq server and mux serving expiry tasks.
func NewExpiryWorker(opt asynq.RedisClientOpt, concurrency int, handler *ExpiryTaskHandler) (*asynq.Server, *asynq.ServeMux) {
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeReservationExpire, handler)
	return srv, mux
}
