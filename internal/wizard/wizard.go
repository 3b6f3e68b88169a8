package wizard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

var (
	// ErrTimeout reports an abandoned session: a step or the whole session ran out of time.
	ErrTimeout = errors.New("wizard timed out")
	// ErrCancelled reports that the user cancelled the session.
	ErrCancelled = errors.New("wizard cancelled")
	// ErrTooManyAttempts reports repeated invalid answers to one question.
	ErrTooManyAttempts = errors.New("too many invalid answers")
)

// State names a wizard step.
type State string

const (
	SelectKind     State = "select_kind"
	SelectTarget   State = "select_target"
	SelectSchedule State = "select_schedule"
	SelectMessage  State = "select_message"
	SelectAck      State = "select_ack"
	Persist        State = "persist"
	Done           State = "done"
)

const (
	maxAttempts   = 3
	maxMessageLen = 3500
	cancelWord    = "cancel"
)

// Choice is an offered answer. Value is what Ask returns when it is picked.
type Choice struct {
	Label string
	Value string
}

// Question is one prompt shown to the user.
type Question struct {
	Step    State
	Text    string
	Choices []Choice
}

// Prompter presents a question and blocks until the user answers or ctx ends.
type Prompter interface {
	Ask(ctx context.Context, q Question) (string, error)
}

// Store is the persistence used by Persist.
type Store interface {
	CreateReminder(ctx context.Context, r reminder.Reminder) (int64, error)
	SetInactive(ctx context.Context, id int64) error
}

// Scheduler registers the new reminder's trigger.
type Scheduler interface {
	Schedule(r reminder.Reminder) error
}

// RoleLister feeds the role picker.
type RoleLister interface {
	ListRoles(ctx context.Context, scopeID int64) ([]string, error)
}

type Config struct {
	StepTimeout    time.Duration
	SessionTimeout time.Duration
}

type Options struct {
	Config    Config
	Store     Store
	Scheduler Scheduler
	Roles     RoleLister
	// BuiltinRoles are always offered by the role picker (e.g. "admins").
	BuiltinRoles []string
	Location     func() *time.Location
	Now          func() time.Time
	Log          logx.Logger
}

// Wizard creates reminders through a fixed sequence of questions.
type Wizard struct {
	cfg      Config
	store    Store
	sched    Scheduler
	roles    RoleLister
	builtins []string
	loc      func() *time.Location
	now      func() time.Time
	log      logx.Logger
}

func New(opt Options) *Wizard {
	cfg := opt.Config
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Minute
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 4 * time.Minute
	}
	if opt.Location == nil {
		opt.Location = func() *time.Location { return time.Local }
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Wizard{
		cfg:      cfg,
		store:    opt.Store,
		sched:    opt.Scheduler,
		roles:    opt.Roles,
		builtins: opt.BuiltinRoles,
		loc:      opt.Location,
		now:      opt.Now,
		log:      opt.Log.With(logx.String("comp", "wizard")),
	}
}

// Session identifies one run of the wizard.
type Session struct {
	ID        string
	ScopeID   int64
	CreatorID int64
}

func NewSession(scopeID, creatorID int64) Session {
	return Session{ID: uuid.NewString(), ScopeID: scopeID, CreatorID: creatorID}
}

// Typed step results.
type kindResult struct{ kind reminder.Kind }

type targetResult struct {
	role   string
	userID int64
}

type scheduleResult struct{ schedule reminder.Schedule }

type messageResult struct{ text string }

type ackResult struct{ required bool }

// Run walks the session through every step and returns the persisted,
// scheduled reminder. Timeouts end the session with ErrTimeout.
func (w *Wizard) Run(ctx context.Context, s Session, p Prompter) (reminder.Reminder, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.SessionTimeout)
	defer cancel()
	log := w.log.With(logx.String("session", s.ID), logx.Int64("scope_id", s.ScopeID), logx.Int64("creator_id", s.CreatorID))

	var (
		kind   kindResult
		target targetResult
		sched  scheduleResult
		msg    messageResult
		ack    ackResult
		out    reminder.Reminder
	)
	state := SelectKind
	for state != Done {
		cur := state
		var err error
		switch cur {
		case SelectKind:
			kind, err = w.selectKind(ctx, p)
			state = SelectTarget
		case SelectTarget:
			target, err = w.selectTarget(ctx, p, s, kind)
			state = SelectSchedule
		case SelectSchedule:
			sched, err = w.selectSchedule(ctx, p)
			state = SelectMessage
		case SelectMessage:
			msg, err = w.selectMessage(ctx, p)
			state = SelectAck
		case SelectAck:
			ack, err = w.selectAck(ctx, p)
			state = Persist
		case Persist:
			out, err = w.persist(ctx, s, kind, target, sched, msg, ack)
			state = Done
		}
		if err != nil {
			log.Info("wizard ended", logx.String("state", string(cur)), logx.Err(err))
			return reminder.Reminder{}, err
		}
	}
	log.Info("reminder created", logx.Int64("reminder_id", out.ID), logx.String("schedule", out.Schedule.String()))
	return out, nil
}

// ask reads one answer, re-asking while parse rejects it.
func ask[T any](w *Wizard, ctx context.Context, p Prompter, q Question, parse func(string) (T, error)) (T, error) {
	var zero T
	text := q.Text
	for attempt := 1; ; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
		answer, err := p.Ask(sctx, Question{Step: q.Step, Text: text, Choices: q.Choices})
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return zero, fmt.Errorf("%w at %s", ErrTimeout, q.Step)
			}
			return zero, err
		}
		answer = strings.TrimSpace(answer)
		if strings.EqualFold(answer, cancelWord) || strings.EqualFold(answer, "/"+cancelWord) {
			return zero, ErrCancelled
		}
		v, err := parse(answer)
		if err == nil {
			return v, nil
		}
		if attempt >= maxAttempts {
			return zero, fmt.Errorf("%w: %w", ErrTooManyAttempts, err)
		}
		text = fmt.Sprintf("%v\n%s", err, q.Text)
	}
}

func (w *Wizard) selectKind(ctx context.Context, p Prompter) (kindResult, error) {
	q := Question{
		Step: SelectKind,
		Text: "Who should be reminded?",
		Choices: []Choice{
			{Label: "A role", Value: string(reminder.KindRole)},
			{Label: "One user", Value: string(reminder.KindUser)},
		},
	}
	return ask(w, ctx, p, q, func(s string) (kindResult, error) {
		switch strings.ToLower(s) {
		case "role", "r":
			return kindResult{kind: reminder.KindRole}, nil
		case "user", "u", "direct":
			return kindResult{kind: reminder.KindUser}, nil
		}
		return kindResult{}, fmt.Errorf("%w: answer role or user", reminder.ErrInvalidFormat)
	})
}

func (w *Wizard) selectTarget(ctx context.Context, p Prompter, s Session, k kindResult) (targetResult, error) {
	if k.kind == reminder.KindUser {
		q := Question{Step: SelectTarget, Text: "Send the numeric Telegram user id of the recipient."}
		return ask(w, ctx, p, q, func(s string) (targetResult, error) {
			id, err := strconv.ParseInt(strings.TrimPrefix(s, "@"), 10, 64)
			if err != nil || id <= 0 {
				return targetResult{}, fmt.Errorf("%w: %q is not a user id", reminder.ErrInvalidFormat, s)
			}
			return targetResult{userID: id}, nil
		})
	}

	q := Question{Step: SelectTarget, Text: "Pick a role or type its name."}
	for _, r := range w.roleChoices(ctx, s.ScopeID) {
		q.Choices = append(q.Choices, Choice{Label: "@" + r, Value: r})
	}
	return ask(w, ctx, p, q, func(s string) (targetResult, error) {
		role := storage.NormalizeRole(s)
		if role == "" || strings.ContainsAny(role, " \t\n") {
			return targetResult{}, fmt.Errorf("%w: role names are one word", reminder.ErrInvalidFormat)
		}
		return targetResult{role: role}, nil
	})
}

func (w *Wizard) roleChoices(ctx context.Context, scopeID int64) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(r string) {
		r = storage.NormalizeRole(r)
		if _, ok := seen[r]; ok || r == "" {
			return
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if w.roles != nil {
		roles, err := w.roles.ListRoles(ctx, scopeID)
		if err != nil {
			w.log.Warn("role picker unavailable", logx.Int64("scope_id", scopeID), logx.Err(err))
		}
		for _, r := range roles {
			add(r)
		}
	}
	for _, r := range w.builtins {
		add(r)
	}
	return out
}

func (w *Wizard) selectSchedule(ctx context.Context, p Prompter) (scheduleResult, error) {
	q := Question{
		Step: SelectSchedule,
		Text: "One-time or weekly?",
		Choices: []Choice{
			{Label: "One-time", Value: string(reminder.ScheduleOnce)},
			{Label: "Weekly", Value: string(reminder.ScheduleWeekly)},
		},
	}
	kind, err := ask(w, ctx, p, q, func(s string) (reminder.ScheduleKind, error) {
		switch strings.ToLower(s) {
		case "once", "one", "one-time":
			return reminder.ScheduleOnce, nil
		case "weekly", "repeat":
			return reminder.ScheduleWeekly, nil
		}
		return "", fmt.Errorf("%w: answer once or weekly", reminder.ErrInvalidFormat)
	})
	if err != nil {
		return scheduleResult{}, err
	}

	loc := w.loc()
	if kind == reminder.ScheduleOnce {
		q := Question{Step: SelectSchedule, Text: fmt.Sprintf("When? e.g. 2025-08-15 18:00 or 15:30 (%s)", loc)}
		return ask(w, ctx, p, q, func(s string) (scheduleResult, error) {
			at, err := reminder.ParseOnce(s, loc, w.now())
			if err != nil {
				return scheduleResult{}, err
			}
			return scheduleResult{schedule: reminder.Once(at)}, nil
		})
	}

	days, err := ask(w, ctx, p, Question{Step: SelectSchedule, Text: "Which days? e.g. mon,wed,fri"}, func(s string) ([]time.Weekday, error) {
		d := reminder.NormalizeDays(s)
		if len(d) == 0 {
			return nil, fmt.Errorf("%w: no known weekday in %q", reminder.ErrInvalidFormat, s)
		}
		return d, nil
	})
	if err != nil {
		return scheduleResult{}, err
	}
	q = Question{Step: SelectSchedule, Text: fmt.Sprintf("At what time? HH:MM (%s)", loc)}
	return ask(w, ctx, p, q, func(s string) (scheduleResult, error) {
		h, m, err := reminder.ParseTimeOfDay(s)
		if err != nil {
			return scheduleResult{}, err
		}
		return scheduleResult{schedule: reminder.Weekly(days, h, m)}, nil
	})
}

func (w *Wizard) selectMessage(ctx context.Context, p Prompter) (messageResult, error) {
	q := Question{Step: SelectMessage, Text: "Reminder text?"}
	return ask(w, ctx, p, q, func(s string) (messageResult, error) {
		switch n := utf8.RuneCountInString(s); {
		case n == 0:
			return messageResult{}, fmt.Errorf("%w: text is empty", reminder.ErrInvalidFormat)
		case n > maxMessageLen:
			return messageResult{}, fmt.Errorf("%w: text is longer than %d characters", reminder.ErrOutOfRange, maxMessageLen)
		}
		return messageResult{text: s}, nil
	})
}

func (w *Wizard) selectAck(ctx context.Context, p Prompter) (ackResult, error) {
	q := Question{
		Step: SelectAck,
		Text: "Ask for a ✅ before sending private messages?",
		Choices: []Choice{
			{Label: "Yes", Value: "yes"},
			{Label: "No", Value: "no"},
		},
	}
	return ask(w, ctx, p, q, func(s string) (ackResult, error) {
		switch strings.ToLower(s) {
		case "yes", "y", "да":
			return ackResult{required: true}, nil
		case "no", "n", "нет":
			return ackResult{required: false}, nil
		}
		return ackResult{}, fmt.Errorf("%w: answer yes or no", reminder.ErrInvalidFormat)
	})
}

// persist stores the reminder and schedules it. A reminder that cannot be
// scheduled is deactivated again.
func (w *Wizard) persist(ctx context.Context, s Session, k kindResult, t targetResult, sc scheduleResult, m messageResult, a ackResult) (reminder.Reminder, error) {
	r := reminder.Reminder{
		ScopeID:      s.ScopeID,
		CreatorID:    s.CreatorID,
		Kind:         k.kind,
		RoleRef:      t.role,
		TargetUserID: t.userID,
		Message:      m.text,
		Schedule:     sc.schedule,
		AckRequired:  a.required,
		Active:       true,
		CreatedAt:    w.now(),
	}
	if err := r.Validate(); err != nil {
		return reminder.Reminder{}, err
	}
	// Persisting must not be cut short by a session deadline that hit mid-step.
	pctx := context.WithoutCancel(ctx)
	id, err := w.store.CreateReminder(pctx, r)
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("create reminder: %w", err)
	}
	r.ID = id
	if w.sched != nil {
		if err := w.sched.Schedule(r); err != nil {
			if derr := w.store.SetInactive(pctx, id); derr != nil {
				w.log.Warn("unschedulable reminder left active", logx.Int64("reminder_id", id), logx.Err(derr))
			}
			return reminder.Reminder{}, fmt.Errorf("schedule reminder %d: %w", id, err)
		}
	}
	return r, nil
}
