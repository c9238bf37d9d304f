package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of a calendar day.
const DateLayout = "2006-01-02"

// DateRange is a half-open interval [CheckIn, CheckOut) of calendar days in UTC.
type DateRange struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDateRange normalizes both bounds to UTC midnight. It does not validate.
func NewDateRange(checkIn, checkOut time.Time) DateRange {
	return DateRange{CheckIn: Day(checkIn), CheckOut: Day(checkOut)}
}

// ParseDateRange parses two YYYY-MM-DD strings.
func ParseDateRange(checkIn, checkOut string) (DateRange, error) {
	in, err := time.Parse(DateLayout, checkIn)
	if err != nil {
		return DateRange{}, &ValidationError{Field: "check_in", Reason: "expected YYYY-MM-DD"}
	}
	out, err := time.Parse(DateLayout, checkOut)
	if err != nil {
		return DateRange{}, &ValidationError{Field: "check_out", Reason: "expected YYYY-MM-DD"}
	}
	return NewDateRange(in, out), nil
}

// Nights is the number of nights covered, checkOut excluded.
func (r DateRange) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}

// Overlaps uses half-open semantics: a checkout on day D does not collide with a checkin on D.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.CheckIn.Before(o.CheckOut) && o.CheckIn.Before(r.CheckOut)
}

func (r DateRange) Equal(o DateRange) bool {
	return r.CheckIn.Equal(o.CheckIn) && r.CheckOut.Equal(o.CheckOut)
}

// Validate checks ordering and length.
func (r DateRange) Validate(maxNights int) error {
	if r.CheckIn.IsZero() {
		return &ValidationError{Field: "check_in", Reason: "required"}
	}
	if r.CheckOut.IsZero() {
		return &ValidationError{Field: "check_out", Reason: "required"}
	}
	if !r.CheckOut.After(r.CheckIn) {
		return &ValidationError{Field: "check_out", Reason: "must be after check_in"}
	}
	if maxNights > 0 && r.Nights() > maxNights {
		return &ValidationError{Field: "range", Reason: fmt.Sprintf("stay longer than %d nights", maxNights)}
	}
	return nil
}

// NightDates lists every occupied night, checkIn through checkOut-1.
func (r DateRange) NightDates() []time.Time {
	n := r.Nights()
	if n <= 0 {
		return nil
	}
	nights := make([]time.Time, 0, n)
	for d := r.CheckIn; d.Before(r.CheckOut); d = d.AddDate(0, 0, 1) {
		nights = append(nights, d)
	}
	return nights
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.CheckIn.Format(DateLayout), r.CheckOut.Format(DateLayout))
}

type dateRangeJSON struct {
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateRangeJSON{
		CheckIn:  r.CheckIn.Format(DateLayout),
		CheckOut: r.CheckOut.Format(DateLayout),
	})
}

func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw dateRangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDateRange(raw.CheckIn, raw.CheckOut)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
