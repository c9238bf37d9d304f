package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrOverlap             = errors.New("range overlaps an active reservation")
	ErrIdempotentReplay    = errors.New("idempotent replay")
	ErrIdempotencyMismatch = errors.New("idempotency key reused for a different request")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrUnavailable         = errors.New("property unavailable for the requested range")
	ErrUpstream            = errors.New("upstream collaborator unavailable")
	ErrNotFound            = errors.New("reservation not found")
	ErrForbidden           = errors.New("forbidden")
	ErrIntentAttached      = errors.New("reservation already has a payment intent")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError describes a rejected CAS. Current is empty when the
// edge itself is not part of the state machine.
type TransitionError struct {
	ID      string
	From    Status
	To      Status
	Current Status
}

func (e *TransitionError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("reservation %s: %s -> %s not allowed", e.ID, e.From, e.To)
	}
	return fmt.Sprintf("reservation %s: %s -> %s rejected, current status %s", e.ID, e.From, e.To, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
