// Command ledger runs maintenance jobs against the reservation ledger:
// spreadsheet export, schema migration, a one-off expiry sweep and an
// on-demand sqlite backup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/events"
	"staybook/internal/export"
	"staybook/internal/logging"
	"staybook/internal/models"
	"staybook/internal/repository"
	"staybook/internal/storage"
	"staybook/internal/worker"
)

const usage = `usage: ledger [-config path] <command> [flags]

commands:
  export  -property ID -from YYYY-MM-DD -to YYYY-MM-DD [-dir path]
  migrate apply pending schema migrations
  sweep   expire unpaid holds past their deadline
  backup  copy the sqlite ledger into backup.storage_path`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("ledger", flag.ContinueOnError)
	configPath := global.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
	global.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("command is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, sqliteDB, err := storage.Open(ctx, cfg.Database, cfg.Sweeper.BatchSize, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "export":
		fs := flag.NewFlagSet("export", flag.ContinueOnError)
		var (
			property = fs.String("property", "", "property id")
			from     = fs.String("from", "", "first night, YYYY-MM-DD")
			to       = fs.String("to", "", "checkout day, YYYY-MM-DD")
			dir      = fs.String("dir", cfg.Exports.Path, "output directory")
		)
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *property == "" {
			return errors.New("export: -property is required")
		}
		window, err := models.ParseDateRange(*from, *to)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		path, err := export.NewLedgerExporter(store, *dir, logger).Export(ctx, *property, window)
		if err != nil {
			return err
		}
		fmt.Println(path)

	case "migrate":
		// storage.Open уже применил миграции.
		fmt.Printf("ledger schema is up to date (%s)\n", cfg.Database.Driver)

	case "sweep":
		// Уведомления из CLI идут только в лог.
		bus := events.NewEventBus(logging.Component(logger, "events"))
		n, err := worker.NewExpirySweeper(store, sweepCache(cfg), bus, cfg.Sweeper.Interval, logger).RunOnce(ctx, time.Now())
		fmt.Printf("expired: %d\n", n)
		if err != nil {
			return err
		}

	case "backup":
		if sqliteDB == nil {
			return errors.New("backup: only the sqlite ledger supports file backups")
		}
		path, err := database.NewBackupService(sqliteDB, cfg.Backup, logger).PerformBackup(ctx)
		if err != nil {
			return err
		}
		fmt.Println(path)

	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// sweepCache reaches the shared Redis cache so released nights show up as
// free. The API's in-process fallback simply ages out.
func sweepCache(cfg *config.Config) domain.AvailabilityCache {
	if !cfg.Cache.Enabled || cfg.Redis.Address == "" {
		return nil
	}
	return repository.NewRedisAvailabilityCache(repository.NewRedisClient(cfg.Redis), cfg.Cache.TTL)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
