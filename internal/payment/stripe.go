package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"staybook/internal/config"
	"staybook/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
)

const metadataReservationID = "reservation_id"

// StripeGateway creates PaymentIntents; the hold is confirmed later by the
// payment_intent.succeeded webhook.
type StripeGateway struct {
	intents       paymentintent.Client
	webhookSecret string
}

func NewStripeGateway(cfg config.PaymentConfig) *StripeGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	return &StripeGateway{
		intents: paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
	}
}

// CreateIntent is idempotent per reservation: Stripe returns the same intent
// for a repeated idempotency key.
func (g *StripeGateway) CreateIntent(ctx context.Context, amount int64, currency, reservationID string) (*models.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("reservation-" + reservationID)
	params.AddMetadata(metadataReservationID, reservationID)

	pi, err := g.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return nil, fmt.Errorf("stripe %s (%d): %s: %w", stripeErr.Type, stripeErr.HTTPStatusCode, stripeErr.Msg, models.ErrUpstream)
		}
		return nil, fmt.Errorf("stripe: %v: %w", err, models.ErrUpstream)
	}

	return &models.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		CreatedAt:    time.Unix(pi.Created, 0).UTC(),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// reservation id from payment intent events.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	out := &WebhookEvent{Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	out.IntentID = pi.ID
	out.ReservationID = pi.Metadata[metadataReservationID]
	return out, nil
}
