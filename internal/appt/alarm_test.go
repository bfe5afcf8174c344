package appt

import (
	"testing"

	"palmcal/internal/model"
)

func before(minutes int) model.Reminder {
	return model.Reminder{Negative: true, Seconds: minutes * 60, Valid: true}
}

func TestSelectAlarm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		reminders []model.Reminder
		enabled   bool
		want      int
		wantOK    bool
	}{
		{
			name:      "picks the soonest of several",
			reminders: []model.Reminder{before(30), before(10), before(60)},
			enabled:   true,
			want:      10,
			wantOK:    true,
		},
		{
			name:      "disabled by policy",
			reminders: []model.Reminder{before(10)},
			enabled:   false,
		},
		{
			name:    "no reminders",
			enabled: true,
		},
		{
			name: "triggers after start are ignored",
			reminders: []model.Reminder{
				{Negative: false, Seconds: 300, Valid: true},
				before(45),
			},
			enabled: true,
			want:    45,
			wantOK:  true,
		},
		{
			name: "absolute triggers are ignored",
			reminders: []model.Reminder{
				{Valid: false},
			},
			enabled: true,
		},
		{
			name:      "seconds floor to whole minutes",
			reminders: []model.Reminder{{Negative: true, Seconds: 119, Valid: true}},
			enabled:   true,
			want:      1,
			wantOK:    true,
		},
		{
			name:      "at start counts as zero minutes only when negative",
			reminders: []model.Reminder{{Negative: true, Seconds: 0, Valid: true}},
			enabled:   true,
			want:      0,
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := SelectAlarm(tt.reminders, tt.enabled)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("SelectAlarm() = (%d, %t), want (%d, %t)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
