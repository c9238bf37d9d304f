package pgstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"staybook/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func dateArg(t time.Time) pgtype.Date {
	return pgtype.Date{Time: t, Valid: true}
}

func (s *Store) CheckOverlap(ctx context.Context, propertyID string, rng models.DateRange) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE property_id = @property_id
			  AND status IN ('PENDING_PAYMENT', 'CONFIRMED')
			  AND stay && daterange(@check_in, @check_out, '[)')
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, q, pgx.NamedArgs{
		"property_id": propertyID,
		"check_in":    dateArg(rng.CheckIn),
		"check_out":   dateArg(rng.CheckOut),
	}).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pgstore.CheckOverlap: %w", err)
	}
	return exists, nil
}

func getByKey(ctx context.Context, q querier, guestID, key string) (*models.Reservation, error) {
	row := q.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE guest_id = @guest_id AND idempotency_key = @key`,
		pgx.NamedArgs{"guest_id": guestID, "key": key})
	r, err := scanReservation(row)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("pgstore.getByKey: %w", err)
	}
	return r, err
}

func replay(stored *models.Reservation, in models.NewReservation) (*models.Reservation, error) {
	if !stored.SameRequest(in.PropertyID, in.Range) {
		return stored, models.ErrIdempotencyMismatch
	}
	return stored, models.ErrIdempotentReplay
}

// TryCreate inserts a PENDING_PAYMENT row; the exclusion constraint rejects overlaps.
func (s *Store) TryCreate(ctx context.Context, in models.NewReservation) (*models.Reservation, error) {
	id, err := parseID(in.ID)
	if err != nil {
		return nil, &models.ValidationError{Field: "id", Reason: "not a uuid"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgstore.TryCreate: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if in.IdempotencyKey != "" {
		stored, err := getByKey(ctx, tx, in.GuestID, in.IdempotencyKey)
		switch {
		case err == nil:
			return replay(stored, in)
		case !errors.Is(err, models.ErrNotFound):
			return nil, err
		}
	}

	const q = `
		INSERT INTO reservations (id, property_id, stay, status, guest_id, idempotency_key,
			amount, currency, payment_intent_id, created_at, payment_deadline, updated_at, version)
		VALUES (@id, @property_id, daterange(@check_in, @check_out, '[)'), @status, @guest_id, @key,
			@amount, @currency, '', @created_at, @deadline, @created_at, 1)
		RETURNING ` + reservationColumns

	var key pgtype.Text
	if in.IdempotencyKey != "" {
		key = pgtype.Text{String: in.IdempotencyKey, Valid: true}
	}

	row := tx.QueryRow(ctx, q, pgx.NamedArgs{
		"id":          id,
		"property_id": in.PropertyID,
		"check_in":    dateArg(in.Range.CheckIn),
		"check_out":   dateArg(in.Range.CheckOut),
		"status":      string(models.StatusPendingPayment),
		"guest_id":    in.GuestID,
		"key":         key,
		"amount":      in.Amount,
		"currency":    in.Currency,
		"created_at":  in.CreatedAt.UTC(),
		"deadline":    in.PaymentDeadline.UTC(),
	})
	r, err := scanReservation(row)
	if err != nil {
		if isIdempotencyViolation(err) {
			_ = tx.Rollback(ctx)
			stored, gerr := getByKey(ctx, s.pool, in.GuestID, in.IdempotencyKey)
			if gerr != nil {
				return nil, gerr
			}
			return replay(stored, in)
		}
		return nil, mapWriteError("TryCreate", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapWriteError("TryCreate: commit", err)
	}

	s.logger.Debug().
		Str("reservation_id", r.ID).
		Str("property_id", r.PropertyID).
		Str("range", r.Range.String()).
		Msg("Reservation created")
	return r, nil
}

// Transition is a single conditional UPDATE. Leaving the active set takes the
// row out of the exclusion constraint's predicate, which frees its nights.
func (s *Store) Transition(ctx context.Context, id string, from, to models.Status) (*models.Reservation, error) {
	if !models.CanTransition(from, to) {
		return nil, &models.TransitionError{ID: id, From: from, To: to}
	}
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	const q = `
		UPDATE reservations
		SET status = @to, version = version + 1, updated_at = @now
		WHERE id = @id AND status = @from
		RETURNING ` + reservationColumns

	row := s.pool.QueryRow(ctx, q, pgx.NamedArgs{
		"id":   uid,
		"from": string(from),
		"to":   string(to),
		"now":  s.now().UTC(),
	})
	r, err := scanReservation(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, mapWriteError("Transition", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &models.TransitionError{ID: id, From: from, To: to, Current: current.Status}
}

func (s *Store) Get(ctx context.Context, id string) (*models.Reservation, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = @id`,
		pgx.NamedArgs{"id": uid})
	r, err := scanReservation(row)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("pgstore.Get: %w", err)
	}
	return r, err
}

func (s *Store) AttachPaymentIntent(ctx context.Context, id, intentID string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reservations SET payment_intent_id = @intent, updated_at = @now
		WHERE id = @id AND payment_intent_id = ''`,
		pgx.NamedArgs{"id": uid, "intent": intentID, "now": s.now().UTC()})
	if err != nil {
		return fmt.Errorf("pgstore.AttachPaymentIntent: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.PaymentIntentID == intentID {
		return nil
	}
	return fmt.Errorf("pgstore.AttachPaymentIntent: reservation %s has %s: %w", id, r.PaymentIntentID, models.ErrIntentAttached)
}

func (s *Store) ListByProperty(ctx context.Context, propertyID string, window models.DateRange) ([]*models.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
		WHERE property_id = @property_id AND stay && daterange(@from, @to, '[)')
		ORDER BY lower(stay) ASC, created_at ASC`

	rows, err := s.pool.Query(ctx, q, pgx.NamedArgs{
		"property_id": propertyID,
		"from":        dateArg(window.CheckIn),
		"to":          dateArg(window.CheckOut),
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore.ListByProperty: %w", err)
	}
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore.ListByProperty: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore.ListByProperty: rows: %w", err)
	}
	return out, nil
}

func (s *Store) expiredCandidates(ctx context.Context, now time.Time, after pgtype.UUID, limit int) ([]pgtype.UUID, error) {
	const q = `
		SELECT id FROM reservations
		WHERE status = 'PENDING_PAYMENT' AND payment_deadline < @now AND id > @after
		ORDER BY id
		LIMIT @limit`

	rows, err := s.pool.Query(ctx, q, pgx.NamedArgs{"now": now.UTC(), "after": after, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("pgstore.expiredCandidates: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[pgtype.UUID])
	if err != nil {
		return nil, fmt.Errorf("pgstore.expiredCandidates: collect: %w", err)
	}
	return ids, nil
}

// SweepExpired pages PENDING_PAYMENT rows past their deadline and expires each
// through Transition. Rows resolved in between are skipped.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) iter.Seq2[*models.Reservation, error] {
	return func(yield func(*models.Reservation, error) bool) {
		// the nil uuid sorts before every generated id
		after := pgtype.UUID{Valid: true}
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			ids, err := s.expiredCandidates(ctx, now, after, s.sweepBatch)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, id := range ids {
				after = id
				idStr := uuid.UUID(id.Bytes).String()
				r, err := s.Transition(ctx, idStr, models.StatusPendingPayment, models.StatusExpired)
				if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
					s.logger.Debug().Err(err).Str("reservation_id", idStr).Msg("Expiry candidate already resolved")
					continue
				}
				if !yield(r, err) {
					return
				}
			}

			if len(ids) < s.sweepBatch {
				return
			}
		}
	}
}
