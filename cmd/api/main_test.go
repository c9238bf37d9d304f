package main

import (
	"context"
	"errors"
	"testing"

	"staybook/internal/api"
	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/events"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHealthChecks(t *testing.T) {
	ctx := context.Background()
	db := newLedger(t)

	t.Run("LedgerOnly", func(t *testing.T) {
		checks := healthChecks(db, nil)
		assert.Len(t, checks, 1)
		assert.NoError(t, checks["ledger"](ctx))
	})

	t.Run("WithRedis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })

		checks := healthChecks(db, client)
		require.Contains(t, checks, "cache")
		assert.NoError(t, checks["cache"](ctx))

		mr.Close()
		err := checks["cache"](ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, api.ErrDegraded))
	})
}

func TestInitExpiryTasks(t *testing.T) {
	logger := zerolog.Nop()
	db := newLedger(t)
	bus := events.NewEventBus(&logger)

	t.Run("Disabled", func(t *testing.T) {
		scheduler, client, srv := initExpiryTasks(&config.Config{}, db, nil, bus, &logger)
		assert.Nil(t, scheduler)
		assert.Nil(t, client)
		assert.Nil(t, srv)
	})

	t.Run("Enabled", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{
			Redis:   config.RedisConfig{Address: mr.Addr()},
			Sweeper: config.SweeperConfig{Asynq: true},
		}
		scheduler, client, srv := initExpiryTasks(cfg, db, nil, bus, &logger)
		require.NotNil(t, srv)
		require.NotNil(t, scheduler)
		require.NotNil(t, client)

		srv.Shutdown()
		assert.NoError(t, client.Close())
	})
}
