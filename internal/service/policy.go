package service

import (
	"fmt"
	"time"

	"staybook/internal/models"
)

// AllowAllPolicy permits every cancellation the state machine allows.
type AllowAllPolicy struct{}

func (AllowAllPolicy) Allow(*models.Reservation, time.Time) error { return nil }

// CheckInCutoffPolicy rejects guest cancellation of a confirmed stay once
// check-in is closer than Notice. Pending holds can always be dropped.
type CheckInCutoffPolicy struct {
	Notice time.Duration
}

func (p CheckInCutoffPolicy) Allow(r *models.Reservation, now time.Time) error {
	if r.Status != models.StatusConfirmed || p.Notice <= 0 {
		return nil
	}
	if r.Range.CheckIn.Sub(now) < p.Notice {
		return fmt.Errorf("reservation %s: cancellation closes %s before check-in: %w", r.ID, p.Notice, models.ErrForbidden)
	}
	return nil
}
