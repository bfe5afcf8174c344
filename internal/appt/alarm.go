package appt

import "palmcal/internal/model"

// SelectAlarm picks the soonest pre-event reminder, in whole minutes.
//
// Only valid reminders that fire before the event start are considered;
// triggers at or after the start and absolute triggers are ignored. The
// second return value is false when alarms are disabled or nothing qualifies.
func SelectAlarm(reminders []model.Reminder, enabled bool) (int, bool) {
	if !enabled {
		return 0, false
	}
	best := -1
	for _, r := range reminders {
		if !r.Valid || !r.Negative || r.Seconds < 0 {
			continue
		}
		if best == -1 || r.Seconds < best {
			best = r.Seconds
		}
	}
	if best == -1 {
		return 0, false
	}
	return best / 60, true
}
