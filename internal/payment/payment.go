package payment

import (
	"errors"
	"fmt"
	"time"

	"staybook/internal/config"
	"staybook/internal/domain"
)

// EventIntentSucceeded is the webhook event type that confirms a hold.
const EventIntentSucceeded = "payment_intent.succeeded"

var ErrInvalidWebhook = errors.New("invalid webhook payload")

// WebhookEvent is the provider-neutral view of a payment webhook.
type WebhookEvent struct {
	Type          string
	IntentID      string
	ReservationID string
}

// Succeeded reports whether the event is a payment success signal.
func (e *WebhookEvent) Succeeded() bool {
	return e.Type == EventIntentSucceeded && e.ReservationID != ""
}

// WebhookParser verifies and decodes raw webhook requests.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// Provider bundles the gateway with its matching webhook parser.
type Provider interface {
	domain.PaymentGateway
	WebhookParser
}

// New builds the configured payment provider.
func New(cfg config.PaymentConfig) (Provider, error) {
	switch cfg.Provider {
	case "", config.PaymentProviderFake:
		return NewFakeGateway(time.Now), nil
	case config.PaymentProviderStripe:
		return NewStripeGateway(cfg), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
