package appt

import (
	"fmt"
	"time"

	"palmcal/internal/model"
)

// WeekdayLabel returns a three-letter label for a datebook weekday index
// (0=Sunday..6=Saturday).
func WeekdayLabel(day int) string {
	switch day {
	case 0:
		return "Sun"
	case 1:
		return "Mon"
	case 2:
		return "Tue"
	case 3:
		return "Wed"
	case 4:
		return "Thu"
	case 5:
		return "Fri"
	case 6:
		return "Sat"
	default:
		return "?"
	}
}

// MonthLabel returns a three-letter month label.
func MonthLabel(m time.Month) string {
	if m < time.January || m > time.December {
		return "?"
	}
	return m.String()[:3]
}

// NthWeekdayLabel names a monthly-by-weekday slot, e.g. "dom2ndTue" or
// "domLastFri".
func NthWeekdayLabel(slot int) string {
	if slot < 0 || slot >= nthWeekdaySlots {
		return "dom?"
	}
	var nth string
	switch slot / 7 {
	case 0:
		nth = "1st"
	case 1:
		nth = "2nd"
	case 2:
		nth = "3rd"
	case 3:
		nth = "4th"
	default:
		nth = "Last"
	}
	return "dom" + nth + WeekdayLabel(slot%7)
}

// RepeatDaysLabel renders a weekday mask as "Mon,Wed" for logs.
func RepeatDaysLabel(days [7]bool) string {
	out := ""
	for i, on := range days {
		if !on {
			continue
		}
		if out != "" {
			out += ","
		}
		out += WeekdayLabel(i)
	}
	return out
}

// DescribeDate renders a record timestamp as "Tue 05 Mar 2024".
func DescribeDate(t time.Time) string {
	return fmt.Sprintf("%s %02d %s %d", WeekdayLabel(int(t.Weekday())), t.Day(), MonthLabel(t.Month()), t.Year())
}

// DescribeRepeat summarizes the repeat fields of rec for logs.
func DescribeRepeat(rec model.AppointmentRecord) string {
	var what string
	switch rec.RepeatType {
	case model.RepeatNone:
		return "none"
	case model.RepeatWeekly:
		what = "weekly on " + RepeatDaysLabel(rec.RepeatDays)
	case model.RepeatMonthlyByDay:
		what = "monthly " + NthWeekdayLabel(rec.RepeatDay)
	default:
		what = rec.RepeatType.String()
	}
	if rec.RepeatInterval > 1 {
		what += fmt.Sprintf(" every %d", rec.RepeatInterval)
	}
	if rec.RepeatForever {
		return what + " forever"
	}
	return what + " until " + DescribeDate(rec.RepeatEnd)
}
