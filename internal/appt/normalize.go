// Package appt converts decoded calendar events into datebook appointment
// records and merges records that describe the same logical appointment.
//
// Everything in this package is synchronous and free of I/O. Events must be
// fed to a Merger in feed order.
package appt

import (
	"time"

	"palmcal/internal/model"
)

// Normalizer converts zoned instants into calendar timestamps in a single
// target zone. The datebook has no notion of zones, so every record field
// holds calendar values in that zone (UTC unless configured otherwise).
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer targeting loc. A nil loc means UTC.
func NewNormalizer(loc *time.Location) Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return Normalizer{loc: loc}
}

// Normalize returns the calendar timestamp for t. Date-only values keep
// their own calendar date at midnight; they are never shifted across zones.
// The returned time always has location UTC so that records compare equal
// field by field.
func (n Normalizer) Normalize(t time.Time, dateOnly bool) time.Time {
	if dateOnly {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	loc := n.loc
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
}

// NormalizeInstant is Normalize applied to a feed instant.
func (n Normalizer) NormalizeInstant(i model.Instant) time.Time {
	return n.Normalize(i.Time, i.DateOnly)
}

// dateOf truncates a normalized timestamp to its calendar date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// endOfDay returns the last second of t's calendar date, the datebook's
// convention for repeat end dates.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}
