package appt

import (
	"time"

	appLog "palmcal/internal/log"
	"palmcal/internal/model"
)

// Outcome says what Merger.Add did with an event.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeNew
	OutcomeMergeUpdate
	OutcomeOverrideAttached
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeMergeUpdate:
		return "merge-update"
	case OutcomeOverrideAttached:
		return "override-attached"
	default:
		return "skipped"
	}
}

// Retention decides which freshly added records are too old to transfer.
// A zero CutoffYear or RetentionDays disables that half of the test; a
// record is dropped only when both halves say it is old.
type Retention struct {
	CutoffYear    int
	RetentionDays int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Expired reports whether rec should not be transferred.
func (r Retention) Expired(rec model.AppointmentRecord) bool {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return r.beforeCutoff(rec) && r.beyondWindow(rec, now())
}

func (r Retention) beforeCutoff(rec model.AppointmentRecord) bool {
	if r.CutoffYear <= 0 || rec.Start.Year() >= r.CutoffYear {
		return false
	}
	if rec.RepeatType != model.RepeatNone && (rec.RepeatForever || rec.RepeatEnd.Year() >= r.CutoffYear) {
		return false
	}
	return true
}

func (r Retention) beyondWindow(rec model.AppointmentRecord, now time.Time) bool {
	if r.RetentionDays <= 0 || ageDays(rec.Start, now) <= r.RetentionDays {
		return false
	}
	if rec.RepeatType != model.RepeatNone && (rec.RepeatForever || ageDays(rec.RepeatEnd, now) <= r.RetentionDays) {
		return false
	}
	return true
}

func ageDays(t, now time.Time) int {
	return int(now.Sub(t).Hours() / 24)
}

// Entry is one row of the merge table.
type Entry struct {
	// UID is the merge key. It is empty for events without an identifier
	// and for overrides, which never become merge targets.
	UID      string
	Summary  string
	Record   model.AppointmentRecord
	Keep     bool
	Override bool

	// implied holds exclusion dates contributed by attached overrides.
	implied []time.Time
	// expired is decided once, when the entry is created.
	expired bool
	// degraded is set while the entry's recurrence could not be translated.
	degraded bool
}

func (e *Entry) decideKeep() {
	e.Keep = !e.expired && !e.degraded
}

// Stats counts what happened during a merge run.
type Stats struct {
	Events    int
	New       int
	Merged    int
	Overrides int
	Malformed int
	Degraded  int
	Expired   int
}

// Merger accumulates appointments in feed order, merging events that share
// an identifier. It is not safe for concurrent use.
type Merger struct {
	opts      Options
	retention Retention

	entries []Entry
	index   map[string]int

	// pending holds override dates seen before their parent series.
	pending map[string][]time.Time

	stats Stats
}

// NewMerger returns an empty merge table.
func NewMerger(opts Options, retention Retention) *Merger {
	return &Merger{
		opts:      opts,
		retention: retention,
		index:     make(map[string]int),
		pending:   make(map[string][]time.Time),
	}
}

// AddAll feeds events in order and returns the accumulated stats. Per-event
// problems are logged and never stop the run.
func (m *Merger) AddAll(events []model.CalendarEvent) Stats {
	for _, ev := range events {
		_, _ = m.Add(ev)
	}
	return m.stats
}

// Add processes one event. The returned error is ErrMalformedEvent when the
// event was skipped; unsupported recurrences are logged, counted and not
// returned.
func (m *Merger) Add(ev model.CalendarEvent) (Outcome, error) {
	m.stats.Events++

	if ev.IsOverride {
		return m.addOverride(ev)
	}
	if idx, ok := m.lookup(ev.UID); ok {
		return m.mergeInto(idx, ev)
	}
	return m.addNew(ev)
}

func (m *Merger) lookup(uid string) (int, bool) {
	if uid == "" {
		return 0, false
	}
	idx, ok := m.index[uid]
	return idx, ok
}

func (m *Merger) addNew(ev model.CalendarEvent) (Outcome, error) {
	b, err := NewAppointment(ev, m.opts)
	if err != nil {
		return m.skip(ev, err)
	}
	m.noteDegraded(ev, b.Degraded)

	entry := Entry{UID: ev.UID, Summary: ev.Summary, Record: b.Record, degraded: b.Degraded != nil}
	if implied := m.pending[ev.UID]; ev.UID != "" && len(implied) > 0 {
		for _, d := range implied {
			entry.Record.Exceptions = WithImpliedException(entry.Record.Exceptions, d)
		}
		entry.implied = implied
		delete(m.pending, ev.UID)
		appLog.Debug("applied deferred override exclusions", "uid", ev.UID, "count", len(implied))
	}
	m.push(entry)
	if ev.UID != "" {
		m.index[ev.UID] = len(m.entries) - 1
	}
	m.stats.New++
	return OutcomeNew, nil
}

func (m *Merger) mergeInto(idx int, ev model.CalendarEvent) (Outcome, error) {
	entry := &m.entries[idx]
	b, err := ContinueAppointment(entry.Record, ev, m.opts)
	if err != nil {
		return m.skip(ev, err)
	}
	m.noteDegraded(ev, b.Degraded)

	rec := b.Record
	if len(ev.ExDates) > 0 {
		// Explicit exclusions were replaced; keep those implied by overrides.
		for _, d := range entry.implied {
			rec.Exceptions = WithImpliedException(rec.Exceptions, d)
		}
	}
	entry.Record = rec
	if ev.Summary != "" {
		entry.Summary = ev.Summary
	}
	if ev.Rule != nil {
		entry.degraded = b.Degraded != nil
	}
	entry.decideKeep()
	m.stats.Merged++
	appLog.Debug("merged event into existing appointment", "uid", ev.UID, "summary", ev.Summary, "index", idx)
	return OutcomeMergeUpdate, nil
}

func (m *Merger) addOverride(ev model.CalendarEvent) (Outcome, error) {
	b, err := NewAppointment(ev, m.opts)
	if err != nil {
		return m.skip(ev, err)
	}
	m.noteDegraded(ev, b.Degraded)

	m.push(Entry{Summary: ev.Summary, Record: b.Record, Override: true, degraded: b.Degraded != nil})
	m.stats.Overrides++

	occurrence := b.Record.Start
	parent, ok := m.lookup(ev.UID)
	if !ok {
		if ev.UID != "" {
			m.pending[ev.UID] = append(m.pending[ev.UID], occurrence)
		}
		appLog.Debug("override without parent stored as standalone appointment", "uid", ev.UID, "summary", ev.Summary)
		return OutcomeNew, nil
	}

	p := &m.entries[parent]
	p.Record.Exceptions = WithImpliedException(p.Record.Exceptions, occurrence)
	p.implied = append(append([]time.Time(nil), p.implied...), occurrence)
	appLog.Debug("override attached to series",
		"uid", ev.UID,
		"summary", ev.Summary,
		"date", occurrence.Format(time.DateOnly),
		"exceptions", len(p.Record.Exceptions),
	)
	return OutcomeOverrideAttached, nil
}

// push adds a first-seen entry, deciding whether it is kept for transfer.
// Entries whose recurrence could not be translated are never kept.
func (m *Merger) push(e Entry) {
	appLog.Debug("appointment built",
		"uid", e.UID,
		"summary", e.Summary,
		"start", DescribeDate(e.Record.Start),
		"repeat", DescribeRepeat(e.Record),
		"exceptions", len(e.Record.Exceptions),
	)
	e.expired = m.retention.Expired(e.Record)
	e.decideKeep()
	if e.expired {
		m.stats.Expired++
		appLog.Debug("appointment too old, not transferring",
			"uid", e.UID,
			"summary", e.Summary,
			"start", e.Record.Start.Format(time.DateOnly),
		)
	}
	m.entries = append(m.entries, e)
}

func (m *Merger) skip(ev model.CalendarEvent, err error) (Outcome, error) {
	m.stats.Malformed++
	appLog.Warn("skipping event that cannot be translated",
		"uid", ev.UID,
		"summary", ev.Summary,
		"reason", err.Error(),
	)
	return OutcomeSkipped, err
}

func (m *Merger) noteDegraded(ev model.CalendarEvent, err error) {
	if err == nil {
		return
	}
	m.stats.Degraded++
	raw := ""
	if ev.Rule != nil {
		raw = ev.Rule.Raw
	}
	appLog.Warn("unsupported recurrence, not transferring event",
		"uid", ev.UID,
		"summary", ev.Summary,
		"rrule", raw,
		"reason", err.Error(),
	)
}

// Entries returns a copy of the merge table in feed order.
func (m *Merger) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e
		out[i].Record = e.Record.Clone()
	}
	return out
}

// Kept returns the records marked for transfer, in table order.
func (m *Merger) Kept() []model.AppointmentRecord {
	out := make([]model.AppointmentRecord, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Keep {
			out = append(out, e.Record.Clone())
		}
	}
	return out
}

// Stats returns the counters accumulated so far.
func (m *Merger) Stats() Stats {
	return m.stats
}
