package appt

import (
	"fmt"
	"time"

	"github.com/friendsofgo/errors"

	"palmcal/internal/model"
)

// ErrUnsupportedRule marks a recurrence rule that uses a feature the
// datebook cannot represent. The event is still usable as a single,
// non-repeating appointment.
var ErrUnsupportedRule = errors.New("appt: unsupported recurrence rule")

// nthWeekdaySlots is the number of monthly-by-weekday slots: five
// occurrences (the fifth doubling as "last") times seven weekdays.
const nthWeekdaySlots = 35

// defaultWeekStart is Monday, the RRULE default for WKST.
const defaultWeekStart = 1

// Recurrence holds the repeat-related fields of an appointment record.
type Recurrence struct {
	Type      model.RepeatType
	Forever   bool
	End       time.Time
	Interval  int
	Days      [7]bool
	WeekStart int
	Day       int
}

// NoRepeat is the recurrence of a single, non-repeating appointment.
func NoRepeat() Recurrence {
	return Recurrence{Type: model.RepeatNone, WeekStart: defaultWeekStart}
}

// apply copies the recurrence into rec.
func (r Recurrence) apply(rec *model.AppointmentRecord) {
	rec.RepeatType = r.Type
	rec.RepeatForever = r.Forever
	rec.RepeatEnd = r.End
	rec.RepeatInterval = r.Interval
	rec.RepeatDays = r.Days
	rec.RepeatWeekStart = r.WeekStart
	rec.RepeatDay = r.Day
}

// TranslateRule maps rule onto the datebook's recurrence model. start is the
// normalized start of the appointment; count-bounded end dates are computed
// from it.
//
// On failure the returned Recurrence is NoRepeat and the error wraps
// ErrUnsupportedRule with the offending feature.
func TranslateRule(rule model.RecurrenceRule, start time.Time, n Normalizer) (Recurrence, error) {
	if reason := rejectedSelector(rule); reason != "" {
		return unsupported(reason)
	}

	out := Recurrence{
		Interval:  max(1, rule.Interval),
		WeekStart: weekStartIndex(rule.WeekStart),
	}
	bounded := rule.Until.IsZero() && rule.Count > 0

	switch rule.Frequency {
	case model.FreqSecondly, model.FreqMinutely, model.FreqHourly:
		return unsupported("FREQ=" + rule.Frequency.String())

	case model.FreqDaily:
		if len(rule.ByDay) > 0 {
			return unsupported("BYDAY with FREQ=DAILY")
		}
		if len(rule.ByMonthDay) > 0 {
			return unsupported("BYMONTHDAY with FREQ=DAILY")
		}
		out.Type = model.RepeatDaily
		if bounded {
			out.End = endOfDay(start.AddDate(0, 0, rule.Count-1))
		}

	case model.FreqWeekly:
		if len(rule.ByMonthDay) > 0 {
			return unsupported("BYMONTHDAY with FREQ=WEEKLY")
		}
		out.Type = model.RepeatWeekly
		for _, sel := range rule.ByDay {
			out.Days[int(sel.Day)] = true
		}
		if len(rule.ByDay) == 0 {
			for i := range out.Days {
				out.Days[i] = true
			}
		}
		if bounded {
			out.End = weeklyCountEnd(start, out.Days, rule.Count)
		}

	case model.FreqMonthly:
		switch {
		case len(rule.ByMonthDay) > 0:
			first := rule.ByMonthDay[0]
			for _, d := range rule.ByMonthDay[1:] {
				if d != first {
					return unsupported("second BYMONTHDAY")
				}
			}
			if first <= 0 {
				return unsupported("BYMONTHDAY counted from month end")
			}
			out.Type = model.RepeatMonthlyByDate
		case len(rule.ByDay) > 0:
			if len(rule.ByDay) > 1 {
				return unsupported("second BYDAY")
			}
			sel := rule.ByDay[0]
			if sel.N <= 0 {
				return unsupported("BYDAY without explicit occurrence")
			}
			if sel.N > 5 {
				return unsupported(fmt.Sprintf("BYDAY occurrence %d", sel.N))
			}
			out.Type = model.RepeatMonthlyByDay
			out.Day = (sel.N-1)*7 + int(sel.Day)
		default:
			out.Type = model.RepeatMonthlyByDate
		}
		if bounded {
			out.End = endOfDay(start.AddDate(0, rule.Count, 0).AddDate(0, 0, -1))
		}

	case model.FreqYearly:
		if len(rule.ByDay) > 0 {
			return unsupported("BYDAY with FREQ=YEARLY")
		}
		if len(rule.ByMonthDay) > 0 {
			return unsupported("BYMONTHDAY with FREQ=YEARLY")
		}
		out.Type = model.RepeatYearly
		if bounded {
			out.End = endOfDay(start.AddDate(rule.Count, 0, 0).AddDate(0, 0, -1))
		}

	default:
		return unsupported("missing FREQ")
	}

	switch {
	case !rule.Until.IsZero():
		out.End = endOfDay(n.Normalize(rule.Until, rule.UntilDateOnly))
		out.Forever = false
	case bounded:
		out.Forever = false
	default:
		out.Forever = true
	}
	return out, nil
}

func unsupported(reason string) (Recurrence, error) {
	return NoRepeat(), errors.Wrap(ErrUnsupportedRule, reason)
}

// rejectedSelector returns the name of the first selector that has no
// datebook equivalent under any frequency.
func rejectedSelector(rule model.RecurrenceRule) string {
	switch {
	case len(rule.BySecond) > 0:
		return "BYSECOND"
	case len(rule.ByMinute) > 0:
		return "BYMINUTE"
	case len(rule.ByHour) > 0:
		return "BYHOUR"
	case len(rule.ByMonth) > 0:
		return "BYMONTH"
	case len(rule.ByYearDay) > 0:
		return "BYYEARDAY"
	case len(rule.ByWeekNo) > 0:
		return "BYWEEKNO"
	case len(rule.BySetPos) > 0:
		return "BYSETPOS"
	}
	return ""
}

// weeklyCountEnd finds the day on which the count-th occurrence falls,
// counting days from start whose bit is set in days. Whole weeks are
// skipped arithmetically; the remainder is walked day by day. The result is
// the last second of the final occurrence's day.
func weeklyCountEnd(start time.Time, days [7]bool, count int) time.Time {
	perWeek := 0
	for _, set := range days {
		if set {
			perWeek++
		}
	}
	if perWeek == 0 || count <= 0 {
		return endOfDay(start)
	}

	weeks := (count - 1) / perWeek
	remaining := count - weeks*perWeek

	weekday := int(start.Weekday())
	seen, walked := 0, 0
	for seen < remaining {
		if days[weekday] {
			seen++
		}
		weekday++
		walked++
		if weekday > 6 {
			weekday = 0
		}
	}
	// walked now points one day past the final occurrence.
	return endOfDay(start.AddDate(0, 0, weeks*7+walked-1))
}

// weekStartIndex maps WKST onto the datebook's 0=Sunday numbering.
func weekStartIndex(ws *time.Weekday) int {
	if ws == nil {
		return defaultWeekStart
	}
	return int(*ws)
}
