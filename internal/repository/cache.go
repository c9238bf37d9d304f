package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"staybook/internal/models"
)

// Availability verdicts are grouped into calendar-month buckets per property.
// Each bucket carries a generation counter and an entry key embeds the
// generations of every bucket its range touches. Invalidating a range bumps
// those generations, which orphans every overlapping entry: two ranges that
// overlap share a night and therefore a bucket.

const bucketLayout = "2006-01"

// Buckets lists the month buckets covering the nights of rng, checkOut excluded.
func Buckets(rng models.DateRange) []string {
	if rng.Nights() <= 0 {
		return nil
	}
	last := rng.CheckOut.AddDate(0, 0, -1)
	var out []string
	for m := firstOfMonth(rng.CheckIn); !m.After(last); m = m.AddDate(0, 1, 0) {
		out = append(out, m.Format(bucketLayout))
	}
	return out
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func genKey(propertyID, bucket string) string {
	return fmt.Sprintf("avail:gen:%s:%s", propertyID, bucket)
}

func genKeys(propertyID string, buckets []string) []string {
	keys := make([]string, len(buckets))
	for i, b := range buckets {
		keys[i] = genKey(propertyID, b)
	}
	return keys
}

// entryKey is the cache key of a verdict computed while the buckets had gens.
func entryKey(propertyID string, rng models.DateRange, gens []int64) string {
	parts := make([]string, len(gens))
	for i, g := range gens {
		parts[i] = strconv.FormatInt(g, 10)
	}
	return fmt.Sprintf("avail:%s:%s:%s:g%s",
		propertyID,
		rng.CheckIn.Format(models.DateLayout),
		rng.CheckOut.Format(models.DateLayout),
		strings.Join(parts, "."))
}

func encodeVerdict(available bool) string {
	if available {
		return "1"
	}
	return "0"
}
