package appt

import (
	"time"

	"palmcal/internal/model"
)

// ExplicitExceptions converts EXDATE values into datebook exception dates,
// one per value, at calendar-date granularity.
func ExplicitExceptions(exdates []model.Instant, n Normalizer) []time.Time {
	if len(exdates) == 0 {
		return nil
	}
	out := make([]time.Time, 0, len(exdates))
	for _, ex := range exdates {
		if ex.IsZero() {
			continue
		}
		out = append(out, dateOf(n.NormalizeInstant(ex)))
	}
	return out
}

// WithImpliedException returns a new exception list holding existing plus
// the date of occurrence. existing is never modified, so a record that
// shared the old slice keeps seeing the old contents.
//
// Dates already present are not de-duplicated.
func WithImpliedException(existing []time.Time, occurrence time.Time) []time.Time {
	out := make([]time.Time, len(existing), len(existing)+1)
	copy(out, existing)
	return append(out, dateOf(occurrence))
}
