package reminder

import (
	"fmt"
	"strings"
	"time"

	kit "remindbot/internal/transport"
)

// Kind selects the fan-out target of a reminder.
type Kind string

const (
	KindRole Kind = "role"
	KindUser Kind = "user"
)

// ScheduleKind is the persisted discriminator of Schedule.
type ScheduleKind string

const (
	ScheduleOnce   ScheduleKind = "once"
	ScheduleWeekly ScheduleKind = "weekly"
)

// Schedule is either a single instant (Once) or a weekly rule (Weekly).
// Only the fields of the selected kind are meaningful.
type Schedule struct {
	Kind ScheduleKind

	// Once
	At time.Time

	// Weekly; Days is canonical (Monday first, no duplicates).
	Days   []time.Weekday
	Hour   int
	Minute int
}

// Once returns a one-shot schedule firing at t.
func Once(t time.Time) Schedule { return Schedule{Kind: ScheduleOnce, At: t} }

// Weekly returns a recurring schedule. Days are canonicalized.
func Weekly(days []time.Weekday, hour, minute int) Schedule {
	return Schedule{Kind: ScheduleWeekly, Days: canonicalDays(days), Hour: hour, Minute: minute}
}

func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleOnce:
		return "once " + s.At.Format("2006-01-02 15:04")
	case ScheduleWeekly:
		return fmt.Sprintf("weekly %s %02d:%02d", FormatDays(s.Days), s.Hour, s.Minute)
	default:
		return "unknown"
	}
}

// Reminder is the unit of scheduled work.
type Reminder struct {
	ID        int64
	ScopeID   int64
	CreatorID int64

	Kind         Kind
	RoleRef      string
	TargetUserID int64

	Message     string
	Schedule    Schedule
	AckRequired bool
	Active      bool
	CreatedAt   time.Time
}

// Validate checks the structural invariants of a reminder definition.
func (r Reminder) Validate() error {
	switch r.Kind {
	case KindRole:
		if strings.TrimSpace(r.RoleRef) == "" || r.TargetUserID != 0 {
			return fmt.Errorf("%w: role reminder needs a role and no target user", ErrInvalidReminder)
		}
	case KindUser:
		if r.TargetUserID == 0 || r.RoleRef != "" {
			return fmt.Errorf("%w: user reminder needs a target user and no role", ErrInvalidReminder)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidReminder, r.Kind)
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidReminder)
	}
	switch r.Schedule.Kind {
	case ScheduleOnce:
		if r.Schedule.At.IsZero() {
			return fmt.Errorf("%w: once schedule without instant", ErrInvalidReminder)
		}
	case ScheduleWeekly:
		if len(r.Schedule.Days) == 0 {
			return fmt.Errorf("%w: weekly schedule without days", ErrInvalidReminder)
		}
		if r.Schedule.Hour < 0 || r.Schedule.Hour > 23 || r.Schedule.Minute < 0 || r.Schedule.Minute > 59 {
			return fmt.Errorf("%w: weekly time %02d:%02d", ErrOutOfRange, r.Schedule.Hour, r.Schedule.Minute)
		}
	default:
		return fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidReminder, r.Schedule.Kind)
	}
	return nil
}

// HistoryEntry is the append-only audit record of one firing.
type HistoryEntry struct {
	ID         int64
	ReminderID int64
	SentAt     time.Time
	DMCount    int
	Detail     string
}

// AllowedUser grants reminder-creation rights within a scope.
type AllowedUser struct {
	ScopeID int64
	UserID  int64
}

// Member is a fan-out candidate.
type Member struct {
	ID    int64
	Name  string
	IsBot bool
}

// Mention selects who an announcement pings. Zero value mentions nobody.
type Mention struct {
	Role   string
	UserID int64
}

// Channel is where group-visible announcements are published.
type Channel = kit.ChatTarget

// MessageRef identifies a published announcement.
type MessageRef = kit.MessageRef
