package database

import (
	"context"
	"errors"
	"iter"
	"time"

	"staybook/internal/models"
)

// SweepExpired lazily expires every PENDING_PAYMENT reservation whose deadline
// is before now. Candidates are paged by id; each one goes through the same
// CAS as any other transition, so rows confirmed or cancelled in between are
// skipped.
func (db *DB) SweepExpired(ctx context.Context, now time.Time) iter.Seq2[*models.Reservation, error] {
	return func(yield func(*models.Reservation, error) bool) {
		after := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			ids, err := db.expiredCandidates(ctx, now, after, db.sweepBatch)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, id := range ids {
				after = id
				r, err := db.Transition(ctx, id, models.StatusPendingPayment, models.StatusExpired)
				if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
					db.logger.Debug().Err(err).Str("reservation_id", id).Msg("Expiry candidate already resolved")
					continue
				}
				if !yield(r, err) {
					return
				}
			}

			if len(ids) < db.sweepBatch {
				return
			}
		}
	}
}
