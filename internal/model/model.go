package model

import "time"

// Instant is a point in time as it appeared in the feed. DateOnly marks
// VALUE=DATE properties, whose calendar fields are meaningful but whose
// time-of-day and zone are not.
type Instant struct {
	Time     time.Time
	DateOnly bool
}

// IsZero reports whether the instant was absent from the source event.
func (i Instant) IsZero() bool { return i.Time.IsZero() }

// Attendee is a single ATTENDEE property of an event.
type Attendee struct {
	Name    string // CN parameter, may be empty
	Address string // raw calendar address, usually "mailto:..."
}

// Reminder is one relative alarm trigger of an event.
//
// Seconds is the magnitude of the trigger offset; Negative is true when the
// trigger fires before the event start. Valid is false for absolute
// (date-time) triggers and triggers that could not be decoded.
type Reminder struct {
	Negative bool
	Seconds  int
	Valid    bool
}

// Frequency is the FREQ part of a recurrence rule.
type Frequency int

const (
	FreqNone Frequency = iota
	FreqSecondly
	FreqMinutely
	FreqHourly
	FreqDaily
	FreqWeekly
	FreqMonthly
	FreqYearly
)

func (f Frequency) String() string {
	switch f {
	case FreqSecondly:
		return "SECONDLY"
	case FreqMinutely:
		return "MINUTELY"
	case FreqHourly:
		return "HOURLY"
	case FreqDaily:
		return "DAILY"
	case FreqWeekly:
		return "WEEKLY"
	case FreqMonthly:
		return "MONTHLY"
	case FreqYearly:
		return "YEARLY"
	default:
		return "NONE"
	}
}

// WeekdaySelector is one BYDAY entry. N is the occurrence within the period
// (1 = first, -1 = last); 0 means every such weekday.
type WeekdaySelector struct {
	N   int
	Day time.Weekday
}

// RecurrenceRule is the decoded form of an RRULE property.
type RecurrenceRule struct {
	Raw string

	Frequency Frequency
	Interval  int
	Count     int
	Until     time.Time // zero when absent

	// UntilDateOnly is set when UNTIL was given as a plain date.
	UntilDateOnly bool

	// WeekStart is nil when WKST was not given; Monday applies then.
	WeekStart *time.Weekday

	ByDay      []WeekdaySelector
	ByMonthDay []int

	// Selectors the datebook has no equivalent for.
	ByMonth   []int
	ByYearDay []int
	ByWeekNo  []int
	ByHour    []int
	ByMinute  []int
	BySecond  []int
	BySetPos  []int
}

// CalendarEvent represents a single decoded VEVENT. It is immutable once
// produced by the decoder.
type CalendarEvent struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID, may be empty

	Summary     string
	Description string
	Location    string
	Attendees   []Attendee

	Start Instant
	End   Instant

	Reminders []Reminder
	Rule      *RecurrenceRule
	ExDates   []Instant

	// IsOverride is true when the VEVENT carries a RECURRENCE-ID, i.e. it
	// replaces one occurrence of a series with the same UID.
	IsOverride bool
}

// AllDay reports whether both start and end are date-only values.
func (e CalendarEvent) AllDay() bool {
	return e.Start.DateOnly && e.End.DateOnly
}

// RepeatType mirrors the datebook's repeat kinds.
type RepeatType int

const (
	RepeatNone RepeatType = iota
	RepeatDaily
	RepeatWeekly
	RepeatMonthlyByDay
	RepeatMonthlyByDate
	RepeatYearly
)

func (r RepeatType) String() string {
	switch r {
	case RepeatDaily:
		return "daily"
	case RepeatWeekly:
		return "weekly"
	case RepeatMonthlyByDay:
		return "monthly-by-weekday"
	case RepeatMonthlyByDate:
		return "monthly-by-date"
	case RepeatYearly:
		return "yearly"
	default:
		return "none"
	}
}

// AppointmentRecord is one datebook appointment. All timestamps carry UTC
// calendar fields as produced by the time normalizer.
type AppointmentRecord struct {
	Start  time.Time
	End    time.Time
	AllDay bool

	Description string
	Note        string

	Alarm        bool
	AlarmAdvance int // minutes

	RepeatType      RepeatType
	RepeatForever   bool
	RepeatEnd       time.Time // meaningful only when RepeatType != RepeatNone && !RepeatForever
	RepeatInterval  int
	RepeatDays      [7]bool // Sunday..Saturday
	RepeatWeekStart int     // 0=Sunday..6=Saturday
	RepeatDay       int     // Nth-weekday-of-month slot, 0..34

	Exceptions []time.Time // UTC dates
}

// Clone returns a deep copy so callers never share the exception slice.
func (r AppointmentRecord) Clone() AppointmentRecord {
	out := r
	if r.Exceptions != nil {
		out.Exceptions = append([]time.Time(nil), r.Exceptions...)
	}
	return out
}
