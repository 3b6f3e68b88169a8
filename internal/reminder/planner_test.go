package reminder

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func weeklyReminder(days []time.Weekday, h, m int, ack bool) Reminder {
	return Reminder{
		ID: 7, ScopeID: -100, Kind: KindRole, RoleRef: "ops", Message: "standup",
		Schedule: Weekly(days, h, m), AckRequired: ack, Active: true,
	}
}

func TestPlanOnce(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 8, 15, 18, 0, 0, 0, time.UTC)
	r := Reminder{ID: 3, Kind: KindUser, TargetUserID: 1, Message: "x", Schedule: Once(at), Active: true}

	tr, err := Plan(r, 0)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if tr.Kind != TriggerOnce || !tr.At.Equal(at) || tr.JobID != "job:3" || tr.ReminderID != 3 {
		t.Fatalf("unexpected trigger: %+v", tr)
	}
	if tr.CronSpec() != "" {
		t.Fatalf("once trigger rendered cron spec %q", tr.CronSpec())
	}

	r.AckRequired = true
	tr, err = Plan(r, 0)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if want := at.Add(-5 * time.Minute); !tr.At.Equal(want) {
		t.Fatalf("At = %v, want %v", tr.At, want)
	}
}

func TestPlanOncePastIsKept(t *testing.T) {
	t.Parallel()
	at := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	tr, err := Plan(Reminder{ID: 1, Kind: KindUser, TargetUserID: 1, Message: "x", Schedule: Once(at), AckRequired: true}, 0)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if !tr.At.Equal(at.Add(-AckLead)) {
		t.Fatalf("At = %v", tr.At)
	}
}

func TestPlanWeekly(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		days     []time.Weekday
		h, m     int
		ack      bool
		wantDays []time.Weekday
		wantH    int
		wantM    int
		wantCron string
	}{
		{
			name: "verbatim without ack",
			days: []time.Weekday{time.Monday, time.Wednesday}, h: 9, m: 0,
			wantDays: []time.Weekday{time.Monday, time.Wednesday}, wantH: 9, wantM: 0,
			wantCron: "0 9 * * 1,3",
		},
		{
			name: "ack lead same day",
			days: []time.Weekday{time.Monday, time.Wednesday}, h: 9, m: 0, ack: true,
			wantDays: []time.Weekday{time.Monday, time.Wednesday}, wantH: 8, wantM: 55,
			wantCron: "55 8 * * 1,3",
		},
		{
			name: "ack lead rolls to previous day",
			days: []time.Weekday{time.Monday, time.Sunday}, h: 0, m: 2, ack: true,
			wantDays: []time.Weekday{time.Saturday, time.Sunday}, wantH: 23, wantM: 57,
			wantCron: "57 23 * * 6,0",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, err := Plan(weeklyReminder(tt.days, tt.h, tt.m, tt.ack), 0)
			if err != nil {
				t.Fatalf("Plan error: %v", err)
			}
			if tr.Kind != TriggerWeekly || tr.JobID != "job:7" {
				t.Fatalf("unexpected trigger: %+v", tr)
			}
			if !slices.Equal(tr.Days, tt.wantDays) || tr.Hour != tt.wantH || tr.Minute != tt.wantM {
				t.Fatalf("trigger = %v %02d:%02d, want %v %02d:%02d", tr.Days, tr.Hour, tr.Minute, tt.wantDays, tt.wantH, tt.wantM)
			}
			if got := tr.CronSpec(); got != tt.wantCron {
				t.Fatalf("CronSpec = %q, want %q", got, tt.wantCron)
			}
		})
	}
}

func TestPlanRejectsInvalidSchedules(t *testing.T) {
	t.Parallel()
	if _, err := Plan(weeklyReminder(nil, 9, 0, false), 0); !errors.Is(err, ErrInvalidReminder) {
		t.Fatalf("empty days err = %v", err)
	}
	if _, err := Plan(weeklyReminder([]time.Weekday{time.Monday}, 24, 0, false), 0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("hour 24 err = %v", err)
	}
	if _, err := Plan(Reminder{ID: 1}, 0); !errors.Is(err, ErrInvalidReminder) {
		t.Fatalf("zero schedule err = %v", err)
	}
}

func TestPlanUsesGivenLead(t *testing.T) {
	t.Parallel()
	lead := 10 * time.Minute
	slot := time.Date(2025, 8, 15, 9, 0, 0, 0, time.UTC)
	tr, err := Plan(Reminder{ID: 4, Kind: KindUser, TargetUserID: 1, Message: "x", Schedule: Once(slot), AckRequired: true}, lead)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	// Trigger plus the same window lands on the slot.
	if got := tr.At.Add(lead); !got.Equal(slot) {
		t.Fatalf("trigger %v + %v = %v, want %v", tr.At, lead, got, slot)
	}

	tr, err = Plan(weeklyReminder([]time.Weekday{time.Monday}, 0, 5, true), lead)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if got := tr.CronSpec(); got != "55 23 * * 0" {
		t.Fatalf("CronSpec = %q", got)
	}

	if _, err := Plan(weeklyReminder([]time.Weekday{time.Monday}, 9, 0, true), 90*time.Second); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("fractional lead err = %v", err)
	}
}
