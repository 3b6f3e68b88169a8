package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

var (
	// ErrPastDue reports a one-shot trigger in the past under PastDueSkip.
	ErrPastDue = errors.New("trigger is past due")
	// ErrNotRunning reports a continuation requested while the scheduler is stopped.
	ErrNotRunning = errors.New("scheduler not running")
)

// PastDuePolicy decides what happens to one-shot triggers already in the past.
type PastDuePolicy string

const (
	PastDueFire PastDuePolicy = "fire"
	PastDueSkip PastDuePolicy = "skip"
)

// Config controls the trigger service. Execution settings belong to engine.Config.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Moscow"
	PastDue  PastDuePolicy
	// TaskTimeout bounds a single firing task (0 uses the engine default).
	TaskTimeout time.Duration
	// AckLead moves ack-gated triggers ahead of their slot (0 means
	// reminder.AckLead). It is fixed at construction and must equal the
	// dispatcher's ack window.
	AckLead time.Duration
}

// FireFunc runs one firing of a reminder. Only the id is passed; the callee
// re-reads current state.
type FireFunc func(ctx context.Context, reminderID int64) error

// Loader lists the reminders that must be registered at startup.
type Loader interface {
	ListActiveReminders(ctx context.Context) ([]reminder.Reminder, error)
}

type jobKind string

const (
	jobWeekly       jobKind = "weekly"
	jobOnce         jobKind = "once"
	jobContinuation jobKind = "continuation"
)

// job is one registration. Callbacks compare their *job against the map entry,
// so a replaced or removed registration never fires.
type job struct {
	name       string
	kind       jobKind
	reminderID int64
	spec       string    // weekly
	at         time.Time // once, continuation
	run        func(ctx context.Context) error
	gate       *engine.Gate
	// dropped is called when a continuation is discarded without running.
	dropped func()

	entryID cron.EntryID
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service
	fire   FireFunc
	lead   time.Duration
	now    func() time.Time

	parser cron.Parser
	c      *cron.Cron
	jobs   map[string]*job

	// Enqueue error throttling: key is job name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type JobInfo struct {
	Name       string
	ReminderID int64
	Kind       string
	Spec       string
	Next       time.Time
	Prev       time.Time
}

type Snapshot struct {
	Running  bool
	Timezone string
	PastDue  PastDuePolicy
	AckLead  time.Duration
	Jobs     []JobInfo
	Engine   engine.Snapshot
}
