// Package pgstore is the PostgreSQL reservation ledger. Exclusivity is
// enforced by a GiST exclusion constraint over (property_id, stay) restricted
// to active statuses, so concurrent creators never need an application lock.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staybook/internal/models"
	"staybook/migrations/postgres"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

const (
	sqlStateExclusionViolation = "23P01"
	sqlStateUniqueViolation    = "23505"
	sqlStateSerialization      = "40001"
	sqlStateDeadlock           = "40P01"

	idempotencyConstraint = "reservations_idempotency_key"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool       *pgxpool.Pool
	logger     zerolog.Logger
	now        func() time.Time
	sweepBatch int
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string, logger *zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore.New: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore.New: ping: %w", err)
	}
	return NewWithPool(pool, logger), nil
}

func NewWithPool(pool *pgxpool.Pool, logger *zerolog.Logger) *Store {
	return &Store{
		pool:       pool,
		logger:     logger.With().Str("component", "ledger").Str("driver", "postgres").Logger(),
		now:        time.Now,
		sweepBatch: models.DefaultSweepBatch,
	}
}

// Migrate applies the embedded goose migrations through a database/sql view of the pool.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, postgres.FS)
	if err != nil {
		return fmt.Errorf("pgstore.Migrate: create provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("pgstore.Migrate: up: %w", err)
	}
	return nil
}

func (s *Store) SetSweepBatchSize(n int) {
	if n > 0 {
		s.sweepBatch = n
	}
}

func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// mapWriteError translates constraint and concurrency failures into ledger
// sentinels. Serialization failures and deadlocks are transient write
// conflicts and are retried by the caller like an overlap.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateExclusionViolation:
			return models.ErrOverlap
		case sqlStateSerialization, sqlStateDeadlock:
			return fmt.Errorf("pgstore.%s: %s: %w", op, pgErr.Code, models.ErrOverlap)
		}
	}
	return fmt.Errorf("pgstore.%s: %w", op, err)
}

func isIdempotencyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation && pgErr.ConstraintName == idempotencyConstraint
}

const reservationColumns = `id, property_id, lower(stay), upper(stay), status, guest_id, idempotency_key,
	amount, currency, payment_intent_id, created_at, payment_deadline, updated_at, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanReservation(row scanner) (*models.Reservation, error) {
	var (
		r        models.Reservation
		id       pgtype.UUID
		checkIn  pgtype.Date
		checkOut pgtype.Date
		status   string
		key      pgtype.Text
	)
	err := row.Scan(&id, &r.PropertyID, &checkIn, &checkOut, &status, &r.GuestID, &key,
		&r.Amount, &r.Currency, &r.PaymentIntentID, &r.CreatedAt, &r.PaymentDeadline, &r.UpdatedAt, &r.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	r.ID = uuid.UUID(id.Bytes).String()
	r.Range = models.NewDateRange(checkIn.Time, checkOut.Time)
	r.Status = models.Status(status)
	r.IdempotencyKey = key.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.PaymentDeadline = r.PaymentDeadline.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, models.ErrNotFound
	}
	return parsed, nil
}
