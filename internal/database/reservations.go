package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"staybook/internal/models"
)

const reservationColumns = `id, property_id, check_in, check_out, status, guest_id, idempotency_key,
	amount, currency, payment_intent_id, created_at, payment_deadline, updated_at, version`

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r        models.Reservation
		checkIn  string
		checkOut string
		status   string
		key      sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.PropertyID, &checkIn, &checkOut, &status, &r.GuestID, &key,
		&r.Amount, &r.Currency, &r.PaymentIntentID, &r.CreatedAt, &r.PaymentDeadline, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	rng, err := models.ParseDateRange(checkIn, checkOut)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored range %s..%s: %w", checkIn, checkOut, err)
	}
	r.Range = rng
	r.Status = models.Status(status)
	r.IdempotencyKey = key.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.PaymentDeadline = r.PaymentDeadline.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func getReservation(ctx context.Context, q rowQueryer, id string) (*models.Reservation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation %s: %w", id, err)
	}
	return r, nil
}

func getByIdempotencyKey(ctx context.Context, q rowQueryer, guestID, key string) (*models.Reservation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE guest_id = ? AND idempotency_key = ?`, guestID, key)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation by idempotency key: %w", err)
	}
	return r, nil
}

// replay resolves an idempotency hit against the incoming request.
func replay(stored *models.Reservation, in models.NewReservation) (*models.Reservation, error) {
	if !stored.SameRequest(in.PropertyID, in.Range) {
		return stored, models.ErrIdempotencyMismatch
	}
	return stored, models.ErrIdempotentReplay
}

func overlapExists(ctx context.Context, q rowQueryer, propertyID string, rng models.DateRange) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reservation_nights WHERE property_id = ? AND night >= ? AND night < ?)`,
		propertyID, rng.CheckIn.Format(models.DateLayout), rng.CheckOut.Format(models.DateLayout),
	).Scan(&exists)
	return exists, err
}

// CheckOverlap reports whether any active reservation occupies a night of rng.
func (db *DB) CheckOverlap(ctx context.Context, propertyID string, rng models.DateRange) (bool, error) {
	exists, err := overlapExists(ctx, db.DB, propertyID, rng)
	if err != nil {
		return false, fmt.Errorf("failed to check overlap: %w", err)
	}
	return exists, nil
}

// TryCreate inserts a PENDING_PAYMENT reservation if no active one overlaps it.
// The write transaction is BEGIN IMMEDIATE, so concurrent creators serialize on
// the database lock; the nights primary key is the backstop.
func (db *DB) TryCreate(ctx context.Context, in models.NewReservation) (*models.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("ledger busy: %w", models.ErrOverlap)
		}
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Idempotency
	if in.IdempotencyKey != "" {
		stored, err := getByIdempotencyKey(ctx, tx, in.GuestID, in.IdempotencyKey)
		switch {
		case err == nil:
			return replay(stored, in)
		case !errors.Is(err, models.ErrNotFound):
			return nil, err
		}
	}

	// 2. Overlap inside the transaction
	exists, err := overlapExists(ctx, tx, in.PropertyID, in.Range)
	if err != nil {
		return nil, fmt.Errorf("failed to check overlap in tx: %w", err)
	}
	if exists {
		return nil, models.ErrOverlap
	}

	// 3. Insert reservation and its nights
	r := in.Reservation()
	var key any
	if in.IdempotencyKey != "" {
		key = in.IdempotencyKey
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PropertyID, r.Range.CheckIn.Format(models.DateLayout), r.Range.CheckOut.Format(models.DateLayout),
		string(r.Status), r.GuestID, key, r.Amount, r.Currency, r.PaymentIntentID,
		r.CreatedAt.UTC(), r.PaymentDeadline.UTC(), r.UpdatedAt.UTC(), r.Version,
	)
	if err != nil {
		if isIdempotencyViolation(err) {
			_ = tx.Rollback()
			stored, gerr := getByIdempotencyKey(ctx, db.DB, in.GuestID, in.IdempotencyKey)
			if gerr != nil {
				return nil, gerr
			}
			return replay(stored, in)
		}
		return nil, db.mapWriteError("insert reservation", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reservation_nights (property_id, night, reservation_id) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare nights insert: %w", err)
	}
	defer stmt.Close()

	for _, night := range r.Range.NightDates() {
		if _, err := stmt.ExecContext(ctx, r.PropertyID, night.Format(models.DateLayout), r.ID); err != nil {
			return nil, db.mapWriteError("insert night", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, db.mapWriteError("commit reservation", err)
	}

	db.logger.Debug().
		Str("reservation_id", r.ID).
		Str("property_id", r.PropertyID).
		Str("range", r.Range.String()).
		Msg("Reservation created")
	return r, nil
}

func (db *DB) mapWriteError(op string, err error) error {
	switch {
	case isNightsViolation(err):
		return models.ErrOverlap
	case isBusy(err):
		return fmt.Errorf("failed to %s, ledger busy: %w", op, models.ErrOverlap)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

// Transition moves a reservation from -> to if it is still in from.
// Leaving the active set releases its nights in the same transaction.
func (db *DB) Transition(ctx context.Context, id string, from, to models.Status) (*models.Reservation, error) {
	if !models.CanTransition(from, to) {
		return nil, &models.TransitionError{ID: id, From: from, To: to}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), db.now().UTC(), id, string(from))
	if err != nil {
		return nil, fmt.Errorf("failed to update reservation status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		current, err := getReservation(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		return nil, &models.TransitionError{ID: id, From: from, To: to, Current: current.Status}
	}

	if !to.Active() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reservation_nights WHERE reservation_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to release nights: %w", err)
		}
	}

	r, err := getReservation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return r, nil
}

func (db *DB) Get(ctx context.Context, id string) (*models.Reservation, error) {
	return getReservation(ctx, db.DB, id)
}

// AttachPaymentIntent records the payment handle once. Re-attaching the same
// handle is a no-op.
func (db *DB) AttachPaymentIntent(ctx context.Context, id, intentID string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE reservations SET payment_intent_id = ?, updated_at = ? WHERE id = ? AND payment_intent_id = ''`,
		intentID, db.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to attach payment intent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	r, err := db.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.PaymentIntentID == intentID {
		return nil
	}
	return fmt.Errorf("reservation %s has %s: %w", id, r.PaymentIntentID, models.ErrIntentAttached)
}

// ListByProperty returns every reservation, any status, whose range overlaps window.
func (db *DB) ListByProperty(ctx context.Context, propertyID string, window models.DateRange) ([]*models.Reservation, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE property_id = ? AND check_in < ? AND check_out > ?
		ORDER BY check_in ASC, created_at ASC`,
		propertyID, window.CheckOut.Format(models.DateLayout), window.CheckIn.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) expiredCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM reservations
		WHERE status = ? AND payment_deadline < ? AND id > ?
		ORDER BY id LIMIT ?`,
		string(models.StatusPendingPayment), now.UTC(), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired reservations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
