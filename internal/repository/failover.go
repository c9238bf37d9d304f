package repository

import (
	"context"
	"sync/atomic"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

const recoveryRetryInterval = time.Minute

// FailoverAvailabilityCache serves from primary (Redis) and switches to the
// fallback (memory) on the first error. While the primary is down it retries
// the primary once per minute. Invalidations the primary missed keep it out of
// rotation until its entries from before the outage have expired.
type FailoverAvailabilityCache struct {
	primary   domain.AvailabilityCache
	fallback  domain.AvailabilityCache
	logger    zerolog.Logger
	ttl       time.Duration
	isDown    atomic.Bool
	lastCheck atomic.Int64
	missedAt  atomic.Int64
	now       func() time.Time
}

func NewFailoverAvailabilityCache(primary, fallback domain.AvailabilityCache, ttl time.Duration, logger *zerolog.Logger) *FailoverAvailabilityCache {
	if ttl <= 0 {
		ttl = models.DefaultCacheTTL
	}
	return &FailoverAvailabilityCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "availability_cache").Logger(),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Down reports whether the fallback is currently serving.
func (c *FailoverAvailabilityCache) Down() bool {
	return c.isDown.Load()
}

func (c *FailoverAvailabilityCache) markDown(err error) {
	if !c.isDown.Swap(true) {
		c.logger.Error().Err(err).Msg("Primary availability cache failed, falling back to memory")
	}
	c.lastCheck.Store(c.now().UnixNano())
}

func (c *FailoverAvailabilityCache) shouldRetryPrimary() bool {
	now := c.now()
	if now.Sub(time.Unix(0, c.lastCheck.Load())) <= recoveryRetryInterval {
		return false
	}
	if missed := c.missedAt.Load(); missed != 0 && now.Sub(time.Unix(0, missed)) <= c.ttl {
		return false
	}
	return true
}

func (c *FailoverAvailabilityCache) Get(ctx context.Context, propertyID string, rng models.DateRange) (models.CacheEntry, error) {
	if !c.isDown.Load() {
		entry, err := c.primary.Get(ctx, propertyID, rng)
		if err == nil {
			return entry, nil
		}
		c.markDown(err)
	}

	// Try to recover after 1 minute
	if c.isDown.Load() && c.shouldRetryPrimary() {
		entry, err := c.primary.Get(ctx, propertyID, rng)
		if err == nil {
			c.isDown.Store(false)
			c.missedAt.Store(0)
			c.logger.Info().Msg("Primary availability cache recovered")
			return entry, nil
		}
		c.lastCheck.Store(c.now().UnixNano())
	}

	return c.fallback.Get(ctx, propertyID, rng)
}

// Put stores the verdict in the cache the entry was read from.
func (c *FailoverAvailabilityCache) Put(ctx context.Context, entry models.CacheEntry, available bool) error {
	if entry.Source != models.CacheSourceRedis {
		return c.fallback.Put(ctx, entry, available)
	}
	if c.isDown.Load() {
		return nil
	}
	if err := c.primary.Put(ctx, entry, available); err != nil {
		c.markDown(err)
	}
	return nil
}

// Invalidate always reaches the fallback so its entries never outlive a write.
func (c *FailoverAvailabilityCache) Invalidate(ctx context.Context, propertyID string, rng models.DateRange) error {
	if !c.isDown.Load() {
		if err := c.primary.Invalidate(ctx, propertyID, rng); err != nil {
			c.markDown(err)
			c.missedAt.Store(c.now().UnixNano())
		}
	} else {
		c.missedAt.Store(c.now().UnixNano())
	}
	return c.fallback.Invalidate(ctx, propertyID, rng)
}
