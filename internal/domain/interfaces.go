package domain

import (
	"context"
	"iter"
	"time"

	"staybook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// IntervalStore is the authoritative reservation ledger.
type IntervalStore interface {
	CheckOverlap(ctx context.Context, propertyID string, rng models.DateRange) (bool, error)
	TryCreate(ctx context.Context, in models.NewReservation) (*models.Reservation, error)
	Transition(ctx context.Context, id string, from, to models.Status) (*models.Reservation, error)
	SweepExpired(ctx context.Context, now time.Time) iter.Seq2[*models.Reservation, error]
	Get(ctx context.Context, id string) (*models.Reservation, error)
	AttachPaymentIntent(ctx context.Context, id, intentID string) error
	ListByProperty(ctx context.Context, propertyID string, window models.DateRange) ([]*models.Reservation, error)
	Ping(ctx context.Context) error
	Close() error
}

// AvailabilityCache holds derived free/busy verdicts. Never authoritative.
type AvailabilityCache interface {
	Get(ctx context.Context, propertyID string, rng models.DateRange) (models.CacheEntry, error)
	Put(ctx context.Context, entry models.CacheEntry, available bool) error
	Invalidate(ctx context.Context, propertyID string, rng models.DateRange) error
}

type ListingDirectory interface {
	Lookup(ctx context.Context, propertyID string) (*models.Listing, error)
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, reservationID string) (*models.PaymentIntent, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// CancellationPolicy decides whether a guest may still cancel at now.
type CancellationPolicy interface {
	Allow(r *models.Reservation, now time.Time) error
}

// ExpiryScheduler arranges a precise expiry check for one hold.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, r *models.Reservation) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type BookingCoordinator interface {
	CheckAvailability(ctx context.Context, propertyID string, rng models.DateRange) (*models.Availability, error)
	CreateBooking(ctx context.Context, req models.BookingRequest) (*models.BookingResult, error)
	ConfirmPayment(ctx context.Context, reservationID string) (*models.Reservation, error)
	CancelBooking(ctx context.Context, reservationID, guestID string) (*models.Reservation, error)
	GetBooking(ctx context.Context, reservationID string) (*models.Reservation, error)
}
