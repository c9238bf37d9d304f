package models

import (
	"time"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusConfirmed      Status = "CONFIRMED"
	StatusExpired        Status = "EXPIRED"
	StatusCancelled      Status = "CANCELLED"
)

// ActiveStatuses are the statuses that occupy nights on a property.
var ActiveStatuses = []Status{StatusPendingPayment, StatusConfirmed}

// Active reports whether a reservation in this status blocks its nights.
func (s Status) Active() bool {
	return s == StatusPendingPayment || s == StatusConfirmed
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusConfirmed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether from -> to is an edge of the reservation state machine.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPendingPayment:
		return to == StatusConfirmed || to == StatusExpired || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCancelled
	}
	return false
}

type Reservation struct {
	ID              string    `json:"id"`
	PropertyID      string    `json:"property_id"`
	Range           DateRange `json:"range"`
	Status          Status    `json:"status"`
	GuestID         string    `json:"guest_id"`
	IdempotencyKey  string    `json:"idempotency_key,omitempty"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	PaymentDeadline time.Time `json:"payment_deadline"`
	UpdatedAt       time.Time `json:"updated_at"`
	Version         int64     `json:"version"`
}

// ExpiredAt reports whether an unpaid hold is past its payment window at now.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return r.Status == StatusPendingPayment && now.After(r.PaymentDeadline)
}

// SameRequest reports whether an idempotent retry targets the same stay.
func (r *Reservation) SameRequest(propertyID string, rng DateRange) bool {
	return r.PropertyID == propertyID && r.Range.Equal(rng)
}

// NewReservation is the input of a ledger insert. The store assigns nothing:
// ID, timestamps and the deadline are decided by the caller.
type NewReservation struct {
	ID              string
	PropertyID      string
	Range           DateRange
	GuestID         string
	IdempotencyKey  string
	Amount          int64
	Currency        string
	CreatedAt       time.Time
	PaymentDeadline time.Time
}

// Reservation builds the row a successful insert produces.
func (n NewReservation) Reservation() *Reservation {
	return &Reservation{
		ID:              n.ID,
		PropertyID:      n.PropertyID,
		Range:           n.Range,
		Status:          StatusPendingPayment,
		GuestID:         n.GuestID,
		IdempotencyKey:  n.IdempotencyKey,
		Amount:          n.Amount,
		Currency:        n.Currency,
		CreatedAt:       n.CreatedAt,
		PaymentDeadline: n.PaymentDeadline,
		UpdatedAt:       n.CreatedAt,
		Version:         1,
	}
}
