package repository

import (
	"context"
	"sync"
	"time"

	"staybook/internal/models"
)

const memoryPruneEvery = 256

type memoryEntry struct {
	available bool
	expiresAt time.Time
	genKeys   []string
}

type memoryGen struct {
	value   int64
	touched time.Time
}

// MemoryAvailabilityCache is the process-local fallback cache. Same key scheme
// as the Redis cache.
type MemoryAvailabilityCache struct {
	mu      sync.Mutex
	gens    map[string]memoryGen
	entries map[string]memoryEntry
	ttl     time.Duration
	puts    int
	now     func() time.Time
}

func NewMemoryAvailabilityCache(ttl time.Duration) *MemoryAvailabilityCache {
	if ttl <= 0 {
		ttl = models.DefaultCacheTTL
	}
	return &MemoryAvailabilityCache{
		gens:    make(map[string]memoryGen),
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryAvailabilityCache) Get(_ context.Context, propertyID string, rng models.DateRange) (models.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buckets := Buckets(rng)
	gens := make([]int64, len(buckets))
	for i, b := range buckets {
		gens[i] = c.gens[genKey(propertyID, b)].value
	}

	now := c.now()
	entry := models.CacheEntry{
		Key:        entryKey(propertyID, rng, gens),
		Source:     models.CacheSourceMemory,
		PropertyID: propertyID,
		Range:      rng,
		CapturedAt: now,
	}
	cached, ok := c.entries[entry.Key]
	if !ok {
		return entry, nil
	}
	if !now.Before(cached.expiresAt) {
		delete(c.entries, entry.Key)
		return entry, nil
	}
	entry.Hit = true
	entry.Available = cached.available
	return entry, nil
}

func (c *MemoryAvailabilityCache) Put(_ context.Context, entry models.CacheEntry, available bool) error {
	if entry.Key == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	// A capture older than one TTL may predate a generation that has since
	// been pruned.
	if !entry.CapturedAt.IsZero() && now.Sub(entry.CapturedAt) >= c.ttl {
		return nil
	}

	stored := memoryEntry{available: available, expiresAt: now.Add(c.ttl)}
	if entry.PropertyID != "" {
		stored.genKeys = genKeys(entry.PropertyID, Buckets(entry.Range))
	}
	c.entries[entry.Key] = stored
	c.puts++
	if c.puts%memoryPruneEvery == 0 {
		c.pruneLocked(now)
	}
	return nil
}

func (c *MemoryAvailabilityCache) Invalidate(_ context.Context, propertyID string, rng models.DateRange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, b := range Buckets(rng) {
		k := genKey(propertyID, b)
		g := c.gens[k]
		g.value++
		g.touched = now
		c.gens[k] = g
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryAvailabilityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// pruneLocked drops expired entries, then generation counters that no live
// entry references and that have not moved for a full TTL. A dropped counter
// reads as zero again; every entry and capture that could carry an older
// value has expired or is refused by Put.
func (c *MemoryAvailabilityCache) pruneLocked(now time.Time) {
	referenced := make(map[string]bool)
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		for _, g := range e.genKeys {
			referenced[g] = true
		}
	}
	for k, g := range c.gens {
		if !referenced[k] && now.Sub(g.touched) > c.ttl {
			delete(c.gens, k)
		}
	}
}
