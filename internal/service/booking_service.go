package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staybook/internal/domain"
	"staybook/internal/events"
	"staybook/internal/metrics"
	"staybook/internal/models"
	"staybook/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes the coordinator. Zero values fall back to the defaults in
// models/constants.go.
type Options struct {
	PaymentWindow time.Duration
	MaxNights     int
	MaxAttempts   int
	Retry         worker.RetryPolicy
	Policy        domain.CancellationPolicy
	Scheduler     domain.ExpiryScheduler
	Clock         func() time.Time
	Sleep         func(ctx context.Context, d time.Duration) error
}

func (o *Options) applyDefaults() {
	if o.PaymentWindow <= 0 {
		o.PaymentWindow = models.DefaultPaymentWindow
	}
	if o.MaxNights <= 0 {
		o.MaxNights = models.DefaultMaxNights
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = models.DefaultCreateAttempts
	}
	if o.Retry.InitialDelay <= 0 {
		o.Retry.InitialDelay = models.DefaultBackoffBase
	}
	if o.Retry.MaxDelay <= 0 {
		o.Retry.MaxDelay = models.DefaultBackoffCap
	}
	if o.Retry.BackoffFactor <= 0 {
		o.Retry.BackoffFactor = 2
	}
	o.Retry.MaxRetries = o.MaxAttempts - 1
	if o.Policy == nil {
		o.Policy = AllowAllPolicy{}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// BookingService is the reservation coordinator. The cache is only read by
// CheckAvailability; every write goes through the store transaction.
type BookingService struct {
	store    domain.IntervalStore
	cache    domain.AvailabilityCache
	listings domain.ListingDirectory
	payments domain.PaymentGateway
	eventBus domain.EventPublisher
	opts     Options
	logger   *zerolog.Logger
}

func NewBookingService(
	store domain.IntervalStore,
	cache domain.AvailabilityCache,
	listings domain.ListingDirectory,
	payments domain.PaymentGateway,
	eventBus domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *BookingService {
	opts.applyDefaults()
	return &BookingService{
		store:    store,
		cache:    cache,
		listings: listings,
		payments: payments,
		eventBus: eventBus,
		opts:     opts,
		logger:   logger,
	}
}

var _ domain.BookingCoordinator = (*BookingService)(nil)

func (s *BookingService) CheckAvailability(ctx context.Context, propertyID string, rng models.DateRange) (*models.Availability, error) {
	start := time.Now()
	defer func() { metrics.ObserveAvailability(time.Since(start).Seconds()) }()

	if propertyID == "" {
		return nil, &models.ValidationError{Field: "property_id", Reason: "required"}
	}
	if err := rng.Validate(s.opts.MaxNights); err != nil {
		return nil, err
	}

	// Generations are captured by Get before the store is read, so a write
	// landing in between orphans the entry we are about to Put.
	var entry models.CacheEntry
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, propertyID, rng)
		switch {
		case err != nil:
			metrics.IncCache("error")
			s.logger.Debug().Err(err).Str("property_id", propertyID).Msg("Availability cache read failed")
		case cached.Hit:
			metrics.IncCache("hit")
			return &models.Availability{PropertyID: propertyID, Range: rng, Available: cached.Available, Cached: true}, nil
		default:
			metrics.IncCache("miss")
			entry = cached
		}
	}

	busy, err := s.store.CheckOverlap(ctx, propertyID, rng)
	if err != nil {
		return nil, fmt.Errorf("check overlap: %w", err)
	}

	if s.cache != nil && entry.Key != "" {
		if err := s.cache.Put(ctx, entry, !busy); err != nil {
			s.logger.Debug().Err(err).Str("property_id", propertyID).Msg("Availability cache write failed")
		}
	}
	return &models.Availability{PropertyID: propertyID, Range: rng, Available: !busy}, nil
}

func (s *BookingService) CreateBooking(ctx context.Context, req models.BookingRequest) (*models.BookingResult, error) {
	if err := s.validateRequest(req); err != nil {
		metrics.IncBooking("rejected")
		return nil, err
	}

	listing, err := s.listings.Lookup(ctx, req.PropertyID)
	if err != nil {
		metrics.IncBooking("rejected")
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("property %s: %w", req.PropertyID, models.ErrNotFound)
		}
		return nil, upstream("listing lookup", err)
	}
	if listing.OwnerID == req.GuestID {
		metrics.IncBooking("rejected")
		return nil, &models.ValidationError{Field: "guest_id", Reason: "owner cannot book own property"}
	}
	amount := int64(req.Range.Nights()) * listing.NightlyRate

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		now := s.opts.Clock().UTC()
		r, err := s.store.TryCreate(ctx, models.NewReservation{
			ID:              uuid.NewString(),
			PropertyID:      req.PropertyID,
			Range:           req.Range,
			GuestID:         req.GuestID,
			IdempotencyKey:  req.IdempotencyKey,
			Amount:          amount,
			Currency:        listing.Currency,
			CreatedAt:       now,
			PaymentDeadline: now.Add(s.opts.PaymentWindow),
		})

		switch {
		case err == nil:
			return s.afterCreate(ctx, r)
		case errors.Is(err, models.ErrIdempotentReplay):
			return s.replay(ctx, r)
		case errors.Is(err, models.ErrOverlap):
			metrics.IncOverlap()
			lastErr = err
			if !s.opts.Retry.ShouldRetry(attempt) {
				break
			}
			metrics.IncCreateRetry()
			delay := s.opts.Retry.JitteredDelay(attempt)
			s.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Str("property_id", req.PropertyID).Msg("Create conflicted, retrying")
			if err := s.opts.Sleep(ctx, delay); err != nil {
				return nil, err
			}
		default:
			metrics.IncBooking("rejected")
			return nil, fmt.Errorf("create reservation: %w", err)
		}
	}

	metrics.IncBooking("unavailable")
	s.logger.Info().Str("property_id", req.PropertyID).Str("range", req.Range.String()).Msg("Range unavailable")
	return nil, fmt.Errorf("property %s %s after %d attempts (%v): %w",
		req.PropertyID, req.Range, s.opts.MaxAttempts, lastErr, models.ErrUnavailable)
}

func (s *BookingService) validateRequest(req models.BookingRequest) error {
	if req.PropertyID == "" {
		return &models.ValidationError{Field: "property_id", Reason: "required"}
	}
	if req.GuestID == "" {
		return &models.ValidationError{Field: "guest_id", Reason: "required"}
	}
	return req.Range.Validate(s.opts.MaxNights)
}

func (s *BookingService) afterCreate(ctx context.Context, r *models.Reservation) (*models.BookingResult, error) {
	metrics.IncBooking("created")
	s.invalidate(ctx, r)
	s.publishEvent(events.EventBookingCreated, r, "api")

	if s.opts.Scheduler != nil {
		if err := s.opts.Scheduler.ScheduleExpiry(ctx, r); err != nil {
			s.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("Failed to schedule expiry task, sweeper will handle it")
		}
	}

	s.logger.Info().
		Str("reservation_id", r.ID).
		Str("property_id", r.PropertyID).
		Str("range", r.Range.String()).
		Time("payment_deadline", r.PaymentDeadline).
		Msg("Hold created")

	res := &models.BookingResult{Reservation: r}
	if err := s.acquireIntent(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

func (s *BookingService) replay(ctx context.Context, r *models.Reservation) (*models.BookingResult, error) {
	metrics.IncBooking("replayed")
	res := &models.BookingResult{Reservation: r, Replayed: true}
	if r.Status == models.StatusPendingPayment && r.PaymentIntentID == "" {
		if err := s.acquireIntent(ctx, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// acquireIntent leaves the hold in place on failure; the caller retries later.
func (s *BookingService) acquireIntent(ctx context.Context, res *models.BookingResult) error {
	if s.payments == nil {
		return nil
	}
	r := res.Reservation

	intent, err := s.payments.CreateIntent(ctx, r.Amount, r.Currency, r.ID)
	if err != nil {
		metrics.IncPaymentIntent("error")
		res.PaymentPending = true
		s.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("Payment intent failed, hold kept")
		return upstream("payment intent for "+r.ID, err)
	}

	if err := s.store.AttachPaymentIntent(ctx, r.ID, intent.ID); err != nil {
		metrics.IncPaymentIntent("error")
		res.PaymentPending = true
		return fmt.Errorf("attach payment intent: %w", err)
	}

	metrics.IncPaymentIntent("ok")
	r.PaymentIntentID = intent.ID
	res.ClientSecret = intent.ClientSecret
	return nil
}

// ConfirmPayment applies the payment success signal.
func (s *BookingService) ConfirmPayment(ctx context.Context, reservationID string) (*models.Reservation, error) {
	r, err := s.store.Transition(ctx, reservationID, models.StatusPendingPayment, models.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", reservationID, err)
	}
	metrics.IncTransition(string(models.StatusConfirmed))
	s.publishEvent(events.EventBookingConfirmed, r, "payment")
	s.logger.Info().Str("reservation_id", r.ID).Msg("Payment confirmed")
	return r, nil
}

// CancelBooking lets the booking's guest cancel a pending or confirmed stay.
func (s *BookingService) CancelBooking(ctx context.Context, reservationID, guestID string) (*models.Reservation, error) {
	r, err := s.store.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.GuestID != guestID {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, models.ErrForbidden)
	}

	// One retry covers a confirm that lands between Get and the CAS.
	for attempt := 0; ; attempt++ {
		if !models.CanTransition(r.Status, models.StatusCancelled) {
			return nil, &models.TransitionError{ID: r.ID, From: r.Status, To: models.StatusCancelled, Current: r.Status}
		}
		if err := s.opts.Policy.Allow(r, s.opts.Clock()); err != nil {
			return nil, err
		}

		cancelled, err := s.store.Transition(ctx, r.ID, r.Status, models.StatusCancelled)
		if err == nil {
			metrics.IncTransition(string(models.StatusCancelled))
			s.invalidate(ctx, cancelled)
			s.publishEvent(events.EventBookingCancelled, cancelled, "guest")
			s.logger.Info().Str("reservation_id", cancelled.ID).Msg("Booking cancelled")
			return cancelled, nil
		}

		var te *models.TransitionError
		if attempt > 0 || !errors.As(err, &te) || te.Current == "" {
			return nil, fmt.Errorf("cancel %s: %w", reservationID, err)
		}
		r.Status = te.Current
	}
}

func (s *BookingService) GetBooking(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return s.store.Get(ctx, reservationID)
}

func (s *BookingService) invalidate(ctx context.Context, r *models.Reservation) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, r.PropertyID, r.Range); err != nil {
		s.logger.Warn().Err(err).Str("property_id", r.PropertyID).Msg("Failed to invalidate availability cache")
	}
}

func (s *BookingService) publishEvent(eventType string, r *models.Reservation, source string) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, events.NewReservationPayload(r, source)); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("reservation_id", r.ID).Msg("publish event error")
	}
}

func upstream(op string, err error) error {
	if errors.Is(err, models.ErrUpstream) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, models.ErrUpstream)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
