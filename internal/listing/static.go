package listing

import (
	"context"
	"fmt"
	"strings"

	"staybook/internal/models"
)

// StaticDirectory serves listings declared in the config file.
type StaticDirectory struct {
	listings map[string]models.Listing
}

func NewStaticDirectory(listings []models.Listing) *StaticDirectory {
	m := make(map[string]models.Listing, len(listings))
	for _, l := range listings {
		l.Currency = strings.ToUpper(l.Currency)
		m[l.PropertyID] = l
	}
	return &StaticDirectory{listings: m}
}

func (d *StaticDirectory) Lookup(_ context.Context, propertyID string) (*models.Listing, error) {
	l, ok := d.listings[propertyID]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", propertyID, models.ErrNotFound)
	}
	return &l, nil
}
