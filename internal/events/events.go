package events

import (
	"encoding/json"
	"sync"
	"time"

	"staybook/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingExpired   = "booking_expired"
	EventBookingCancelled = "booking_cancelled"
)

// All is the pseudo event type that matches every published event.
const All = "*"

// ReservationEventPayload is the reservation snapshot handed to subscribers.
type ReservationEventPayload struct {
	ReservationID string        `json:"reservation_id"`
	PropertyID    string        `json:"property_id"`
	GuestID       string        `json:"guest_id"`
	CheckIn       string        `json:"check_in"`
	CheckOut      string        `json:"check_out"`
	Status        models.Status `json:"status"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Deadline      time.Time     `json:"payment_deadline"`
	Source        string        `json:"source,omitempty"`
}

func NewReservationPayload(r *models.Reservation, source string) ReservationEventPayload {
	return ReservationEventPayload{
		ReservationID: r.ID,
		PropertyID:    r.PropertyID,
		GuestID:       r.GuestID,
		CheckIn:       r.Range.CheckIn.Format(models.DateLayout),
		CheckOut:      r.Range.CheckOut.Format(models.DateLayout),
		Status:        r.Status,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Deadline:      r.PaymentDeadline,
		Source:        source,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged when logger is set.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type, or All.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type, then wildcard subscribers.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[All]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("Event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
