package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"staybook/internal/models"
	"staybook/migrations/sqlite"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

const busyTimeoutMs = 5000

// DB is the SQLite reservation ledger.
type DB struct {
	*sql.DB
	path       string
	logger     zerolog.Logger
	now        func() time.Time
	sweepBatch int
}

// NewDB opens (or creates) the ledger at path and applies pending migrations.
// ":memory:" gives a private in-memory ledger on a single connection.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	inMemory := path == ":memory:"
	if !inMemory {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// every connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:         sqlDB,
		path:       path,
		logger:     logger.With().Str("component", "ledger").Str("driver", "sqlite").Logger(),
		now:        time.Now,
		sweepBatch: models.DefaultSweepBatch,
	}

	if err := db.Migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db.logger.Info().Str("path", path).Msg("Ledger initialized")
	return db, nil
}

func dsn(path string) string {
	params := fmt.Sprintf("_busy_timeout=%d&_txlock=immediate&_foreign_keys=on", busyTimeoutMs)
	if path == ":memory:" {
		return path + "?" + params
	}
	return path + "?" + params + "&_journal_mode=WAL"
}

// Migrate applies the embedded goose migrations.
func (db *DB) Migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, sqlite.FS)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		db.logger.Debug().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("Migration applied")
	}
	return nil
}

// Path is the database file the ledger was opened from.
func (db *DB) Path() string {
	return db.path
}

// SetSweepBatchSize bounds how many candidates one sweep page loads.
func (db *DB) SetSweepBatchSize(n int) {
	if n > 0 {
		db.sweepBatch = n
	}
}

// SetClock overrides the clock used for updated_at stamps.
func (db *DB) SetClock(now func() time.Time) {
	if now != nil {
		db.now = now
	}
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
