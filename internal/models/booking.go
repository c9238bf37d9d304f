package models

import "time"

// Listing is the slice of property data the engine needs from the listing service.
type Listing struct {
	PropertyID  string `json:"property_id" yaml:"property_id"`
	OwnerID     string `json:"owner_id" yaml:"owner_id"`
	NightlyRate int64  `json:"nightly_rate" yaml:"nightly_rate"`
	Currency    string `json:"currency" yaml:"currency"`
}

type Availability struct {
	PropertyID string    `json:"property_id"`
	Range      DateRange `json:"range"`
	Available  bool      `json:"available"`
	Cached     bool      `json:"cached"`
}

// CacheEntry is the result of a cache lookup. Key already embeds the bucket
// generations observed at lookup time; Put must store under that same key.
type CacheEntry struct {
	Key       string
	Source    string
	Hit       bool
	Available bool

	// Lookup context, filled by caches that track it.
	PropertyID string
	Range      DateRange
	CapturedAt time.Time
}

type BookingRequest struct {
	PropertyID     string
	Range          DateRange
	GuestID        string
	IdempotencyKey string
}

type BookingResult struct {
	Reservation *Reservation `json:"reservation"`
	Replayed    bool         `json:"replayed"`

	// PaymentPending is set when the row exists but no intent could be acquired.
	PaymentPending bool   `json:"payment_pending,omitempty"`
	ClientSecret   string `json:"client_secret,omitempty"`
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	CreatedAt    time.Time
}
