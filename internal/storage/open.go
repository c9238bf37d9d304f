package storage

import (
	"context"
	"fmt"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/pgstore"

	"github.com/rs/zerolog"
)

// Open returns the configured ledger with migrations applied. The second
// value is non-nil only for the sqlite driver, which is the one that supports
// file backups.
func Open(ctx context.Context, cfg config.DatabaseConfig, sweepBatch int, logger *zerolog.Logger) (domain.IntervalStore, *database.DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := pgstore.New(ctx, cfg.Postgres.DSN(), logger)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("migrate postgres ledger: %w", err)
		}
		st.SetSweepBatchSize(sweepBatch)
		return st, nil, nil
	case config.DriverSQLite, "":
		db, err := database.NewDB(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		db.SetSweepBatchSize(sweepBatch)
		return db, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
