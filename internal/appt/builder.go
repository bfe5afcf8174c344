package appt

import (
	"strings"

	"github.com/friendsofgo/errors"

	"palmcal/internal/model"
)

// ErrMalformedEvent is returned for events that lack a start or end.
var ErrMalformedEvent = errors.New("appt: event has no start or end")

// Options are the per-run policy flags that affect record content.
type Options struct {
	Alarms     bool
	SkipNotes  bool
	Normalizer Normalizer
}

// Build is the result of converting one event. Degraded is non-nil (and
// wraps ErrUnsupportedRule) when the event's recurrence could not be
// represented and the record was made non-repeating.
type Build struct {
	Record   model.AppointmentRecord
	Degraded error
}

// NewAppointment builds a fresh record from ev. Every field is derived from
// the event or set to its default.
func NewAppointment(ev model.CalendarEvent, opts Options) (Build, error) {
	if ev.Start.IsZero() || ev.End.IsZero() {
		return Build{}, ErrMalformedEvent
	}
	n := opts.Normalizer

	var b Build
	rec := &b.Record
	rec.Start = n.NormalizeInstant(ev.Start)
	rec.End = n.NormalizeInstant(ev.End)
	rec.AllDay = ev.AllDay()

	description, long := splitDescription(ev)
	rec.Description = description
	rec.Note = buildNote(ev.Location, ev.Attendees, long, opts.SkipNotes)

	rec.AlarmAdvance, rec.Alarm = SelectAlarm(ev.Reminders, opts.Alarms)

	recur := NoRepeat()
	if ev.Rule != nil {
		recur, b.Degraded = TranslateRule(*ev.Rule, rec.Start, n)
	}
	recur.apply(rec)

	rec.Exceptions = ExplicitExceptions(ev.ExDates, n)
	return b, nil
}

// ContinueAppointment rebuilds prev with the content of a later event that
// shares its identifier. Fields the event specifies overwrite prev; fields it
// leaves empty (text, alarm, recurrence, exceptions) are inherited. Start,
// end and the all-day flag always come from ev.
func ContinueAppointment(prev model.AppointmentRecord, ev model.CalendarEvent, opts Options) (Build, error) {
	if ev.Start.IsZero() || ev.End.IsZero() {
		return Build{}, ErrMalformedEvent
	}
	n := opts.Normalizer

	b := Build{Record: prev.Clone()}
	rec := &b.Record
	rec.Start = n.NormalizeInstant(ev.Start)
	rec.End = n.NormalizeInstant(ev.End)
	rec.AllDay = ev.AllDay()

	description, long := splitDescription(ev)
	if description != "" {
		rec.Description = description
	}
	if note := buildNote(ev.Location, ev.Attendees, long, opts.SkipNotes); note != "" {
		rec.Note = note
	}

	if advance, ok := SelectAlarm(ev.Reminders, opts.Alarms); ok {
		rec.Alarm = true
		rec.AlarmAdvance = advance
	}

	if ev.Rule != nil {
		var recur Recurrence
		recur, b.Degraded = TranslateRule(*ev.Rule, rec.Start, n)
		recur.apply(rec)
	}

	if len(ev.ExDates) > 0 {
		rec.Exceptions = ExplicitExceptions(ev.ExDates, n)
	}
	return b, nil
}

// splitDescription returns the record description and the long text left
// for the note. A one-line DESCRIPTION stands in for a missing SUMMARY.
func splitDescription(ev model.CalendarEvent) (string, string) {
	if ev.Summary != "" {
		return ev.Summary, ev.Description
	}
	if ev.Description != "" && !strings.ContainsAny(ev.Description, "\r\n") {
		return ev.Description, ""
	}
	return "", ev.Description
}

// buildNote joins location, attendees and long description into the note,
// separated by blank lines.
func buildNote(location string, attendees []model.Attendee, description string, skipNotes bool) string {
	sections := make([]string, 0, 3)
	if location != "" {
		sections = append(sections, "Location:\n"+location)
	}
	if lines := attendeeLines(attendees); len(lines) > 0 {
		sections = append(sections, "Attendees:\n"+strings.Join(lines, "\n"))
	}
	if description != "" && !skipNotes {
		sections = append(sections, description)
	}
	return strings.Join(sections, "\n\n")
}

func attendeeLines(attendees []model.Attendee) []string {
	lines := make([]string, 0, len(attendees))
	for _, a := range attendees {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = stripMailto(strings.TrimSpace(a.Address))
		}
		if name == "" {
			continue
		}
		lines = append(lines, name)
	}
	return lines
}

func stripMailto(addr string) string {
	const scheme = "mailto:"
	if len(addr) >= len(scheme) && strings.EqualFold(addr[:len(scheme)], scheme) {
		return addr[len(scheme):]
	}
	return addr
}
