package worker

import (
	"context"
	"errors"
	"time"

	"staybook/internal/domain"
	"staybook/internal/events"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

// expiryEffects runs what must follow a PENDING_PAYMENT -> EXPIRED transition.
type expiryEffects struct {
	cache  domain.AvailabilityCache
	events domain.EventPublisher
	logger zerolog.Logger
}

func (e expiryEffects) apply(ctx context.Context, r *models.Reservation, source string) {
	metrics.IncTransition(string(models.StatusExpired))
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, r.PropertyID, r.Range); err != nil {
			e.logger.Warn().Err(err).Str("property_id", r.PropertyID).Msg("Failed to invalidate availability cache")
		}
	}
	if e.events != nil {
		if err := e.events.PublishJSON(events.EventBookingExpired, events.NewReservationPayload(r, source)); err != nil {
			e.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("Failed to publish expiry event")
		}
	}
}

// ExpirySweeper periodically releases holds whose payment window has passed.
type ExpirySweeper struct {
	store    domain.IntervalStore
	effects  expiryEffects
	interval time.Duration
	logger   zerolog.Logger
}

func NewExpirySweeper(
	store domain.IntervalStore,
	cache domain.AvailabilityCache,
	publisher domain.EventPublisher,
	interval time.Duration,
	logger *zerolog.Logger,
) *ExpirySweeper {
	if interval <= 0 {
		interval = models.DefaultSweepInterval
	}
	l := logger.With().Str("component", "sweeper").Logger()
	return &ExpirySweeper{
		store:    store,
		effects:  expiryEffects{cache: cache, events: publisher, logger: l},
		interval: interval,
		logger:   l,
	}
}

// Start runs the sweep on every tick until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("Expiry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Expiry sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.RunOnce(ctx, time.Now())
			if err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Int("expired", n).Msg("Sweep finished with errors")
			}
		}
	}
}

// RunOnce expires everything overdue at now and returns how many
// reservations it moved to EXPIRED. Per-candidate errors do not abort the run.
func (s *ExpirySweeper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	var (
		expired int
		errs    []error
	)

	for r, err := range s.store.SweepExpired(ctx, now) {
		if err != nil {
			if ctx.Err() != nil {
				errs = append(errs, err)
				break
			}
			s.logger.Warn().Err(err).Msg("Failed to expire candidate")
			errs = append(errs, err)
			continue
		}
		expired++
		s.effects.apply(ctx, r, "sweeper")
	}

	metrics.AddExpired(expired)
	err := errors.Join(errs...)
	if err != nil {
		metrics.IncSweepRun("error")
	} else {
		metrics.IncSweepRun("ok")
	}

	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("Released expired holds")
	}
	return expired, err
}
