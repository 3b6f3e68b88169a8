package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AckLead is the default acknowledgement window reserved ahead of the
// scheduled slot. The same value must drive the trigger shift and the
// dispatcher's wait.
const AckLead = 5 * time.Minute

// TriggerKind discriminates Trigger.
type TriggerKind string

const (
	TriggerOnce   TriggerKind = "once"
	TriggerWeekly TriggerKind = "weekly"
)

// Trigger is the concrete registration derived from a reminder.
type Trigger struct {
	JobID      string
	ReminderID int64
	Kind       TriggerKind

	// Once
	At time.Time

	// Weekly
	Days   []time.Weekday
	Hour   int
	Minute int
}

// JobID is the stable scheduler key of a reminder.
func JobID(id int64) string { return "job:" + strconv.FormatInt(id, 10) }

// CronSpec renders a weekly trigger as a 5-field cron expression.
// It returns "" for once triggers.
func (t Trigger) CronSpec() string {
	if t.Kind != TriggerWeekly {
		return ""
	}
	dow := make([]string, 0, len(t.Days))
	for _, d := range t.Days {
		dow = append(dow, strconv.Itoa(int(d)))
	}
	return fmt.Sprintf("%d %d * * %s", t.Minute, t.Hour, strings.Join(dow, ","))
}

// Plan computes the trigger for r. With AckRequired set, the trigger is moved
// lead earlier so the dispatcher can hold the ack window before the slot.
// lead must be whole minutes; zero means AckLead. Once instants in the past
// are returned unchanged.
func Plan(r Reminder, lead time.Duration) (Trigger, error) {
	if lead <= 0 {
		lead = AckLead
	}
	if lead%time.Minute != 0 {
		return Trigger{}, fmt.Errorf("%w: ack lead %s is not whole minutes", ErrOutOfRange, lead)
	}
	t := Trigger{JobID: JobID(r.ID), ReminderID: r.ID}
	switch r.Schedule.Kind {
	case ScheduleOnce:
		if r.Schedule.At.IsZero() {
			return Trigger{}, fmt.Errorf("%w: once schedule without instant", ErrInvalidReminder)
		}
		t.Kind = TriggerOnce
		t.At = r.Schedule.At
		if r.AckRequired {
			t.At = t.At.Add(-lead)
		}
		return t, nil

	case ScheduleWeekly:
		s := r.Schedule
		if len(s.Days) == 0 {
			return Trigger{}, fmt.Errorf("%w: weekly schedule without days", ErrInvalidReminder)
		}
		if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
			return Trigger{}, fmt.Errorf("%w: weekly time %02d:%02d", ErrOutOfRange, s.Hour, s.Minute)
		}
		t.Kind = TriggerWeekly
		t.Days, t.Hour, t.Minute = canonicalDays(s.Days), s.Hour, s.Minute
		if !r.AckRequired {
			return t, nil
		}
		shift, h, m := ShiftTimeBackward(s.Hour, s.Minute, int(lead/time.Minute))
		t.Hour, t.Minute = h, m
		if shift == -1 {
			prev := make([]time.Weekday, 0, len(t.Days))
			for _, d := range t.Days {
				prev = append(prev, PreviousDay(d))
			}
			t.Days = canonicalDays(prev)
		}
		return t, nil

	default:
		return Trigger{}, fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidReminder, r.Schedule.Kind)
	}
}
