package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"staybook/internal/models"

	"github.com/go-chi/chi/v5"
)

const (
	headerGuestID        = "X-Guest-ID"
	headerRole           = "X-Role"
	headerIdempotencyKey = "Idempotency-Key"
	headerStripeSig      = "Stripe-Signature"

	roleAdmin = "admin"

	maxBodyBytes    = 1 << 16
	maxWebhookBytes = 1 << 20
)

type stayRequest struct {
	PropertyID string `json:"property_id"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
}

func (r stayRequest) parse() (string, models.DateRange, error) {
	propertyID := strings.TrimSpace(r.PropertyID)
	if propertyID == "" {
		return "", models.DateRange{}, &models.ValidationError{Field: "property_id", Reason: "required"}
	}
	rng, err := models.ParseDateRange(strings.TrimSpace(r.CheckIn), strings.TrimSpace(r.CheckOut))
	if err != nil {
		return "", models.DateRange{}, err
	}
	return propertyID, rng, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return &models.ValidationError{Field: "body", Reason: "invalid JSON body"}
	}
	return nil
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body stayRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeDomainError(w, err)
		return
	}
	propertyID, rng, err := body.parse()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	avail, err := s.bookings.CheckAvailability(r.Context(), propertyID, rng)
	if err != nil {
		s.logFailure(r, err, "availability check failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body stayRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeDomainError(w, err)
		return
	}
	propertyID, rng, err := body.parse()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := s.bookings.CreateBooking(r.Context(), models.BookingRequest{
		PropertyID:     propertyID,
		Range:          rng,
		GuestID:        strings.TrimSpace(r.Header.Get(headerGuestID)),
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
	})
	switch {
	case err != nil && res != nil && res.PaymentPending:
		// Hold exists; payment intent must be retried by the client.
		s.logFailure(r, err, "booking held without payment intent")
		writeJSON(w, http.StatusAccepted, res)
	case err != nil:
		s.logFailure(r, err, "create booking failed")
		writeDomainError(w, err)
	case res.Replayed:
		writeJSON(w, http.StatusOK, res)
	default:
		w.Header().Set("Location", "/"+res.Reservation.ID)
		writeJSON(w, http.StatusCreated, res)
	}
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.bookings.GetBooking(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if r.Header.Get(headerRole) != roleAdmin && res.GuestID != strings.TrimSpace(r.Header.Get(headerGuestID)) {
		writeDomainError(w, models.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.bookings.CancelBooking(r.Context(), chi.URLParam(r, "bookingId"), strings.TrimSpace(r.Header.Get(headerGuestID)))
	if err != nil {
		s.logFailure(r, err, "cancel booking failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "unreadable body")
		return
	}

	event, err := s.webhooks.ParseWebhook(payload, r.Header.Get(headerStripeSig))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Rejected payment webhook")
		writeError(w, http.StatusBadRequest, "invalid_webhook", err.Error())
		return
	}
	if !event.Succeeded() {
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	_, err = s.bookings.ConfirmPayment(r.Context(), event.ReservationID)
	var te *models.TransitionError
	switch {
	case err == nil:
	case errors.As(err, &te) && te.Current == models.StatusConfirmed:
		// redelivery
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrNotFound):
		// Paid after expiry or cancellation: needs a manual refund, retrying will not help.
		s.logger.Error().Err(err).
			Str("reservation_id", event.ReservationID).
			Str("payment_intent_id", event.IntentID).
			Msg("Payment received for a hold that is no longer pending")
	default:
		s.logFailure(r, err, "confirm payment failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "ok"
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			components[name] = err.Error()
			state = "degraded"
			if !errors.Is(err, ErrDegraded) {
				status = http.StatusServiceUnavailable
			}
			continue
		}
		components[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": state, "components": components})
}

func (s *HTTPServer) logFailure(r *http.Request, err error, msg string) {
	statusCode, _ := statusFor(err)
	ev := s.logger.Warn()
	if statusCode >= http.StatusInternalServerError {
		ev = s.logger.Error()
	} else if statusCode < http.StatusConflict {
		ev = s.logger.Debug()
	}
	ev.Err(err).Str("path", r.URL.Path).Msg(msg)
}
