package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"staybook/internal/models"
)

// FakeGateway issues deterministic intents and accepts unsigned webhooks.
// Development and tests only.
type FakeGateway struct {
	mu      sync.Mutex
	now     func() time.Time
	intents map[string]*models.PaymentIntent
	// Fail makes the next CreateIntent calls return this error.
	Fail  error
	calls int
}

func NewFakeGateway(now func() time.Time) *FakeGateway {
	return &FakeGateway{now: now, intents: make(map[string]*models.PaymentIntent)}
}

func (g *FakeGateway) CreateIntent(_ context.Context, amount int64, currency, reservationID string) (*models.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.Fail != nil {
		return nil, fmt.Errorf("create intent: %v: %w", g.Fail, models.ErrUpstream)
	}
	if amount <= 0 || currency == "" {
		return nil, &models.ValidationError{Field: "amount", Reason: "must be positive with a currency"}
	}
	if intent, ok := g.intents[reservationID]; ok {
		return intent, nil
	}
	id := "pi_fake_" + reservationID
	intent := &models.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		CreatedAt:    g.now().UTC(),
	}
	g.intents[reservationID] = intent
	return intent, nil
}

// Calls reports how many CreateIntent calls were made.
func (g *FakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeWebhook struct {
	Type          string `json:"type"`
	IntentID      string `json:"payment_intent_id"`
	ReservationID string `json:"reservation_id"`
}

// ParseWebhook accepts {"type", "payment_intent_id", "reservation_id"}.
func (g *FakeGateway) ParseWebhook(payload []byte, _ string) (*WebhookEvent, error) {
	var w fakeWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidWebhook)
	}
	return &WebhookEvent{Type: w.Type, IntentID: w.IntentID, ReservationID: w.ReservationID}, nil
}
