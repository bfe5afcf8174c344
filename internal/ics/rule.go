package ics

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"palmcal/internal/model"
)

// decodeRule turns an RRULE value into a model.RecurrenceRule. Floating
// UNTIL values are read in loc. A value rrule-go cannot parse yields a rule
// with FreqNone, which the translator reports as unsupported.
func decodeRule(raw string, loc *time.Location) (*model.RecurrenceRule, error) {
	rule := &model.RecurrenceRule{Raw: raw}

	opt, err := rrule.StrToROptionInLocation(raw, loc)
	if err != nil {
		return rule, err
	}

	rule.Frequency = frequencyOf(opt.Freq)
	rule.Interval = opt.Interval
	rule.Count = opt.Count
	rule.Until = opt.Until
	if !opt.Until.IsZero() {
		rule.UntilDateOnly = untilIsDate(raw)
	}
	if hasPart(raw, "WKST") {
		ws := weekdayOf(opt.Wkst)
		rule.WeekStart = &ws
	}

	for _, wd := range opt.Byweekday {
		rule.ByDay = append(rule.ByDay, model.WeekdaySelector{N: wd.N(), Day: weekdayOf(wd)})
	}
	rule.ByMonthDay = opt.Bymonthday
	rule.ByMonth = opt.Bymonth
	rule.ByYearDay = opt.Byyearday
	rule.ByWeekNo = opt.Byweekno
	rule.ByHour = opt.Byhour
	rule.ByMinute = opt.Byminute
	rule.BySecond = opt.Bysecond
	rule.BySetPos = opt.Bysetpos
	return rule, nil
}

func frequencyOf(f rrule.Frequency) model.Frequency {
	switch f {
	case rrule.SECONDLY:
		return model.FreqSecondly
	case rrule.MINUTELY:
		return model.FreqMinutely
	case rrule.HOURLY:
		return model.FreqHourly
	case rrule.DAILY:
		return model.FreqDaily
	case rrule.WEEKLY:
		return model.FreqWeekly
	case rrule.MONTHLY:
		return model.FreqMonthly
	case rrule.YEARLY:
		return model.FreqYearly
	}
	return model.FreqNone
}

// weekdayOf converts rrule-go's Monday-based index to time.Weekday.
func weekdayOf(wd rrule.Weekday) time.Weekday {
	return time.Weekday((wd.Day() + 1) % 7)
}

// rulePart returns the value of the named RRULE part, or "".
func rulePart(raw, name string) string {
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func hasPart(raw, name string) bool {
	return rulePart(raw, name) != ""
}

func untilIsDate(raw string) bool {
	v := rulePart(raw, "UNTIL")
	return v != "" && !strings.ContainsAny(v, "Tt")
}
