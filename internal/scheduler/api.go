package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Schedule plans r and registers its trigger under reminder.JobID(r.ID),
// replacing any previous registration for the same id.
func (s *Service) Schedule(r reminder.Reminder) error {
	tr, err := reminder.Plan(r, s.lead)
	if err != nil {
		return fmt.Errorf("plan reminder %d: %w", r.ID, err)
	}
	id := r.ID
	j := &job{
		name:       tr.JobID,
		reminderID: id,
		run:        func(ctx context.Context) error { return s.fire(ctx, id) },
		gate:       &engine.Gate{},
	}
	switch tr.Kind {
	case reminder.TriggerWeekly:
		j.kind = jobWeekly
		j.spec = tr.CronSpec()
		if _, err := s.parser.Parse(j.spec); err != nil {
			return fmt.Errorf("reminder %d: bad cron spec %q: %w", id, j.spec, err)
		}
	case reminder.TriggerOnce:
		j.kind = jobOnce
		j.at = tr.At
	}

	s.mu.Lock()
	if j.kind == jobOnce && s.cfg.PastDue == PastDueSkip && !j.at.After(s.now()) {
		s.removeLocked(j.name)
		s.mu.Unlock()
		s.log.Warn("past due trigger skipped", logx.Int64("reminder_id", id), logx.Time("at", j.at))
		return fmt.Errorf("%w: reminder %d at %s", ErrPastDue, id, j.at.Format(time.RFC3339))
	}
	if old := s.jobs[j.name]; old != nil {
		// Keep the overlap gate so a replacement cannot stack on a running firing.
		j.gate = old.gate
	}
	s.removeLocked(j.name)
	s.jobs[j.name] = j
	if s.c != nil {
		s.armLocked(j)
	}
	next := s.nextLocked(j)
	s.mu.Unlock()

	s.log.Debug("reminder scheduled",
		logx.Int64("reminder_id", id),
		logx.String("job", j.name),
		logx.String("kind", string(j.kind)),
		logx.String("spec", j.spec),
		logx.Time("next", next),
	)
	s.publish(eventbus.TypeReminderScheduled, id)
	return nil
}

// Cancel removes the registration of reminder id. Firings already started
// (including their ack continuation) are not affected.
func (s *Service) Cancel(id int64) bool {
	s.mu.Lock()
	removed := s.removeLocked(reminder.JobID(id))
	s.mu.Unlock()
	if removed {
		s.log.Debug("reminder unscheduled", logx.Int64("reminder_id", id))
		s.publish(eventbus.TypeReminderCanceled, id)
	}
	return removed
}

// After runs fn once, d from now, as an engine task named name. It holds no
// goroutine while waiting. Once After succeeds, exactly one of fn and dropped
// is called: dropped fires when the continuation is replaced by a later call
// with the same name, discarded by Stop, or refused by the task engine.
func (s *Service) After(name string, d time.Duration, fn func(ctx context.Context) error, dropped func()) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return errors.New("name and fn required")
	}
	if dropped == nil {
		dropped = func() {}
	}
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	var replaced func()
	if old := s.jobs[name]; old != nil && old.kind == jobContinuation {
		replaced = old.dropped
	}
	j := &job{name: name, kind: jobContinuation, at: s.now().Add(d), run: fn, gate: &engine.Gate{}, dropped: dropped}
	s.removeLocked(name)
	s.jobs[name] = j
	s.armLocked(j)
	s.mu.Unlock()

	if replaced != nil {
		replaced()
	}
	return nil
}

// ReloadAll re-derives every registration from src. Registrations of
// reminders that are no longer active are dropped. Past due one-shots follow
// the PastDue policy; skipped ones are not counted and not reported as errors.
func (s *Service) ReloadAll(ctx context.Context, src Loader) (int, error) {
	rs, err := src.ListActiveReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active reminders: %w", err)
	}

	keep := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		keep[reminder.JobID(r.ID)] = struct{}{}
	}
	s.mu.Lock()
	for name, j := range s.jobs {
		if j.kind == jobContinuation {
			continue
		}
		if _, ok := keep[name]; !ok {
			s.removeLocked(name)
		}
	}
	s.mu.Unlock()

	var errs []error
	n, skipped := 0, 0
	for _, r := range rs {
		err := s.Schedule(r)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrPastDue):
			skipped++
		default:
			errs = append(errs, err)
		}
	}
	s.log.Info("reminders reloaded", logx.Int("scheduled", n), logx.Int("skipped", skipped), logx.Int("failed", len(errs)))
	return n, errors.Join(errs...)
}

// Next reports the next trigger time of reminder id.
func (s *Service) Next(id int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[reminder.JobID(id)]
	if j == nil {
		return time.Time{}, false
	}
	return s.nextLocked(j), true
}

func (s *Service) removeLocked(name string) bool {
	j := s.jobs[name]
	if j == nil {
		return false
	}
	s.disarmLocked(j, s.c)
	delete(s.jobs, name)
	return true
}

func (s *Service) armLocked(j *job) {
	switch j.kind {
	case jobWeekly:
		eid, err := s.c.AddJob(j.spec, cron.FuncJob(func() { s.trigger(j) }))
		if err != nil {
			s.log.Error("schedule register failed", logx.String("job", j.name), logx.String("spec", j.spec), logx.Err(err))
			return
		}
		j.entryID = eid
	default:
		delay := max(j.at.Sub(s.now()), 0)
		j.timer = time.AfterFunc(delay, func() { s.trigger(j) })
	}
}

func (s *Service) disarmLocked(j *job, c *cron.Cron) {
	if j.entryID != 0 && c != nil {
		c.Remove(j.entryID)
	}
	j.entryID = 0
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
}

// trigger only enqueues. A callback whose job was replaced or removed is ignored.
func (s *Service) trigger(j *job) {
	s.mu.Lock()
	if s.jobs[j.name] != j {
		s.mu.Unlock()
		return
	}
	if j.kind != jobWeekly {
		j.timer = nil
		delete(s.jobs, j.name)
	}
	timeout := s.cfg.TaskTimeout
	s.mu.Unlock()

	if s.engine == nil {
		s.log.Warn("no task engine; trigger dropped", logx.String("job", j.name))
		if j.dropped != nil {
			j.dropped()
		}
		return
	}
	t := engine.Task{
		Name:    j.name,
		Timeout: timeout,
		Run:     j.run,
		Gate:    j.gate,
	}
	if j.dropped != nil {
		t.Dropped = func(err error) {
			s.log.Warn("continuation dropped", logx.String("job", j.name), logx.Err(err))
			j.dropped()
		}
	}
	if err := s.engine.Enqueue(t); err != nil {
		s.reportEnqueueError(j.name, err)
	}
}

func (s *Service) nextLocked(j *job) time.Time {
	if j.kind != jobWeekly {
		return j.at
	}
	if s.c != nil && j.entryID != 0 {
		if e := s.c.Entry(j.entryID); !e.Next.IsZero() {
			return e.Next
		}
	}
	sched, err := s.parser.Parse(j.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(s.now().In(s.loc))
}

func (s *Service) publish(typ string, reminderID int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: reminderID})
}
