// Package ics fetches iCalendar feeds and decodes their VEVENTs into
// model.CalendarEvent values.
package ics

import (
	"bytes"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/friendsofgo/errors"

	appLog "palmcal/internal/log"
	"palmcal/internal/model"
)

// ErrFeedDecode is returned when a feed cannot be parsed at all.
var ErrFeedDecode = errors.New("ics: feed cannot be decoded")

const (
	propDuration     = ical.ComponentProperty("DURATION")
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propTrigger      = ical.ComponentProperty("TRIGGER")
)

// Decoder turns feed payloads into calendar events.
type Decoder struct {
	// Floating is the zone for date-times that carry neither TZID nor a
	// trailing Z. Nil means UTC.
	Floating *time.Location
}

// Decode parses body and returns its events in feed order. Problems with a
// single event are logged and leave the affected fields empty; only a feed
// that cannot be parsed returns an error, wrapping ErrFeedDecode.
func (d Decoder) Decode(src Source, body []byte) ([]model.CalendarEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.Wrap(ErrFeedDecode, "empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("feed parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, errors.Wrapf(ErrFeedDecode, "%s: %v", src.ID, err)
	}

	vevents := cal.Events()
	events := make([]model.CalendarEvent, 0, len(vevents))
	for _, ve := range vevents {
		events = append(events, d.decodeEvent(src, ve))
	}

	appLog.Info("feed decode completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func (d Decoder) floating() *time.Location {
	if d.Floating == nil {
		return time.UTC
	}
	return d.Floating
}

func (d Decoder) decodeEvent(src Source, ve *ical.VEvent) model.CalendarEvent {
	out := model.CalendarEvent{SourceID: src.ID}

	out.UID = propValue(ve.GetProperty(ical.ComponentPropertyUniqueId))
	out.Summary = propValue(ve.GetProperty(ical.ComponentPropertySummary))
	out.Description = propValue(ve.GetProperty(ical.ComponentPropertyDescription))
	out.Location = propValue(ve.GetProperty(ical.ComponentPropertyLocation))

	logBad := func(field string, err error) {
		appLog.Warn("ignoring undecodable property",
			"uid", out.UID,
			"summary", out.Summary,
			"property", field,
			"reason", err.Error(),
		)
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		start, err := d.parseInstant(p, p.Value)
		if err != nil {
			logBad("DTSTART", err)
		}
		out.Start = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		end, err := d.parseInstant(p, p.Value)
		if err != nil {
			logBad("DTEND", err)
		}
		out.End = end
	} else if p := ve.GetProperty(propDuration); p != nil && !out.Start.IsZero() {
		neg, dur, err := parseDuration(p.Value)
		switch {
		case err != nil:
			logBad("DURATION", err)
		case neg:
			logBad("DURATION", errors.New("negative event duration"))
		default:
			out.End = model.Instant{
				Time:     out.Start.Time.Add(dur),
				DateOnly: out.Start.DateOnly && dur%(24*time.Hour) == 0,
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && strings.TrimSpace(p.Value) != "" {
		rule, err := decodeRule(strings.TrimSpace(p.Value), d.floating())
		if err != nil {
			logBad("RRULE", err)
		}
		out.Rule = rule
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			ex, err := d.parseInstant(p, part)
			if err != nil {
				logBad("EXDATE", err)
				continue
			}
			out.ExDates = append(out.ExDates, ex)
		}
	}

	out.IsOverride = ve.GetProperty(propRecurrenceID) != nil

	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		a := model.Attendee{Name: param(p, string(ical.ParameterCn)), Address: strings.TrimSpace(p.Value)}
		if a.Name == "" && a.Address == "" {
			continue
		}
		out.Attendees = append(out.Attendees, a)
	}

	for _, c := range ve.Components {
		alarm, ok := c.(*ical.VAlarm)
		if !ok {
			continue
		}
		out.Reminders = append(out.Reminders, decodeTrigger(alarm.GetProperty(propTrigger)))
	}

	return out
}

// decodeTrigger converts a VALARM TRIGGER. Absolute triggers and triggers
// relative to the event end are marked invalid.
func decodeTrigger(p *ical.IANAProperty) model.Reminder {
	if p == nil {
		return model.Reminder{}
	}
	if strings.EqualFold(param(p, string(ical.ParameterValue)), "DATE-TIME") {
		return model.Reminder{}
	}
	if strings.EqualFold(param(p, "RELATED"), "END") {
		return model.Reminder{}
	}
	neg, dur, err := parseDuration(p.Value)
	if err != nil {
		return model.Reminder{}
	}
	return model.Reminder{Negative: neg, Seconds: int(dur / time.Second), Valid: true}
}

// parseInstant parses a DATE or DATE-TIME value using the VALUE and TZID
// parameters of p.
func (d Decoder) parseInstant(p *ical.IANAProperty, v string) (model.Instant, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return model.Instant{}, errors.New("empty time value")
	}

	if strings.EqualFold(param(p, string(ical.ParameterValue)), "DATE") || !strings.ContainsAny(v, "Tt") {
		t, err := time.ParseInLocation("20060102", v, time.UTC)
		if err != nil {
			return model.Instant{}, errors.Wrapf(err, "date %q", v)
		}
		return model.Instant{Time: t, DateOnly: true}, nil
	}

	if strings.HasSuffix(v, "Z") || strings.HasSuffix(v, "z") {
		t, err := time.Parse("20060102T150405", v[:len(v)-1])
		if err != nil {
			return model.Instant{}, errors.Wrapf(err, "date-time %q", v)
		}
		return model.Instant{Time: t.UTC()}, nil
	}

	loc := d.floating()
	if tzid := strings.Trim(param(p, string(ical.ParameterTzid)), "\"/"); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		} else {
			appLog.Warn("unknown TZID, treating time as floating", "tzid", tzid)
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	if err != nil {
		return model.Instant{}, errors.Wrapf(err, "date-time %q", v)
	}
	return model.Instant{Time: t}, nil
}

func propValue(p *ical.IANAProperty) string {
	if p == nil {
		return ""
	}
	return p.Value
}

// param returns the first value of the named parameter, matched
// case-insensitively.
func param(p *ical.IANAProperty, name string) string {
	if p == nil {
		return ""
	}
	for k, vs := range p.ICalParameters {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}
