package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"
)

type staticLoader []reminder.Reminder

func (l staticLoader) ListActiveReminders(context.Context) ([]reminder.Reminder, error) {
	return l, nil
}

func newTestScheduler(t *testing.T, cfg Config) (*Service, <-chan int64) {
	t.Helper()
	eng := engine.New(engine.Config{Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	fired := make(chan int64, 16)
	s := New(cfg, eng, func(_ context.Context, id int64) error {
		fired <- id
		return nil
	}, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s, fired
}

func onceReminder(id int64, at time.Time) reminder.Reminder {
	return reminder.Reminder{
		ID: id, ScopeID: -1, Kind: reminder.KindUser, TargetUserID: 5, Message: "m",
		Schedule: reminder.Once(at), Active: true,
	}
}

func weeklyReminder(id int64) reminder.Reminder {
	return reminder.Reminder{
		ID: id, ScopeID: -1, Kind: reminder.KindRole, RoleRef: "ops", Message: "m",
		Schedule:    reminder.Weekly([]time.Weekday{time.Monday, time.Wednesday}, 9, 0),
		AckRequired: true, Active: true,
	}
}

func expectFired(t *testing.T, fired <-chan int64, want int64) {
	t.Helper()
	select {
	case got := <-fired:
		if got != want {
			t.Fatalf("fired %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reminder %d never fired", want)
	}
}

func expectQuiet(t *testing.T, fired <-chan int64, d time.Duration) {
	t.Helper()
	select {
	case got := <-fired:
		t.Fatalf("unexpected firing of %d", got)
	case <-time.After(d):
	}
}

func TestScheduleOnceFiresExactlyOnce(t *testing.T) {
	t.Parallel()
	s, fired := newTestScheduler(t, Config{})
	if err := s.Schedule(onceReminder(1, time.Now().Add(30*time.Millisecond))); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	expectFired(t, fired, 1)
	expectQuiet(t, fired, 100*time.Millisecond)
	if _, ok := s.Next(1); ok {
		t.Fatal("once registration still present after firing")
	}
}

func TestScheduleReplacesPreviousRegistration(t *testing.T) {
	t.Parallel()
	s, fired := newTestScheduler(t, Config{})
	r := onceReminder(2, time.Now().Add(40*time.Millisecond))
	if err := s.Schedule(r); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if err := s.Schedule(r); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if got := len(s.Snapshot().Jobs); got != 1 {
		t.Fatalf("jobs = %d, want 1", got)
	}
	expectFired(t, fired, 2)
	expectQuiet(t, fired, 150*time.Millisecond)
}

func TestCancelPreventsFiring(t *testing.T) {
	t.Parallel()
	s, fired := newTestScheduler(t, Config{})
	if err := s.Schedule(onceReminder(3, time.Now().Add(50*time.Millisecond))); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if !s.Cancel(3) {
		t.Fatal("Cancel reported nothing removed")
	}
	if s.Cancel(3) {
		t.Fatal("second Cancel removed something")
	}
	expectQuiet(t, fired, 150*time.Millisecond)
}

func TestPastDuePolicy(t *testing.T) {
	t.Parallel()
	past := time.Now().Add(-time.Hour)

	s, fired := newTestScheduler(t, Config{PastDue: PastDueFire})
	if err := s.Schedule(onceReminder(4, past)); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	expectFired(t, fired, 4)

	skip, skipped := newTestScheduler(t, Config{PastDue: PastDueSkip})
	if err := skip.Schedule(onceReminder(5, past)); !errors.Is(err, ErrPastDue) {
		t.Fatalf("Schedule err = %v, want ErrPastDue", err)
	}
	expectQuiet(t, skipped, 50*time.Millisecond)
}

func TestWeeklyRegistrationUsesAckLead(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Config{Timezone: "UTC"})
	if err := s.Schedule(weeklyReminder(6)); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Jobs) != 1 {
		t.Fatalf("jobs = %+v", snap.Jobs)
	}
	j := snap.Jobs[0]
	if j.Name != "job:6" || j.Spec != "55 8 * * 1,3" || j.ReminderID != 6 {
		t.Fatalf("unexpected job: %+v", j)
	}
	next, ok := s.Next(6)
	if !ok || next.IsZero() {
		t.Fatal("no next run for weekly reminder")
	}
	next = next.In(time.UTC)
	if next.Hour() != 8 || next.Minute() != 55 || (next.Weekday() != time.Monday && next.Weekday() != time.Wednesday) {
		t.Fatalf("next run %v not on mon/wed 08:55", next)
	}
}

func TestAfterRunsContinuation(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Config{})
	done := make(chan struct{})
	if err := s.After("ack:9", 20*time.Millisecond, func(context.Context) error {
		close(done)
		return nil
	}, func() { t.Error("continuation dropped") }); err != nil {
		t.Fatalf("After error: %v", err)
	}
	// Cancelling the reminder registration leaves the continuation alone.
	s.Cancel(9)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("continuation never ran")
	}

	stopped := New(Config{}, nil, nil, logx.Nop(), nil)
	if err := stopped.After("ack:1", time.Millisecond, func(context.Context) error { return nil }, nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("After on stopped scheduler err = %v", err)
	}
}

func TestReloadAllRederivesRegistrations(t *testing.T) {
	t.Parallel()
	s, fired := newTestScheduler(t, Config{PastDue: PastDueSkip})

	if err := s.Schedule(weeklyReminder(20)); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	src := staticLoader{
		weeklyReminder(21),
		onceReminder(22, time.Now().Add(30*time.Millisecond)),
		onceReminder(23, time.Now().Add(-time.Minute)),
	}
	n, err := s.ReloadAll(context.Background(), src)
	if err != nil {
		t.Fatalf("ReloadAll error: %v", err)
	}
	if n != 2 {
		t.Fatalf("scheduled %d, want 2", n)
	}
	if _, ok := s.Next(20); ok {
		t.Fatal("registration of inactive reminder survived reload")
	}
	if _, ok := s.Next(21); !ok {
		t.Fatal("weekly reminder not registered")
	}
	expectFired(t, fired, 22)
	expectQuiet(t, fired, 100*time.Millisecond)
}

func TestApplyTimezoneRebuildsWeekly(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Config{Timezone: "UTC"})
	if err := s.Schedule(weeklyReminder(30)); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	s.Apply(Config{Timezone: "Asia/Tokyo"})
	if got := s.Location().String(); got != "Asia/Tokyo" {
		t.Fatalf("location = %s", got)
	}
	next, ok := s.Next(30)
	if !ok {
		t.Fatal("weekly registration lost on timezone change")
	}
	if local := next.In(s.Location()); local.Hour() != 8 || local.Minute() != 55 {
		t.Fatalf("next run %v not at 08:55 Tokyo time", local)
	}
}

func TestContinuationDroppedWhenQueueFull(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{}, eng, nil, logx.Nop(), nil)
	s.Start(context.Background())
	block := make(chan struct{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})

	started := make(chan struct{})
	if err := eng.Enqueue(engine.Task{Name: "busy", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue busy: %v", err)
	}
	<-started
	if err := eng.Enqueue(engine.Task{Name: "filler", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue filler: %v", err)
	}

	ran := make(chan struct{}, 1)
	dropped := make(chan struct{}, 1)
	if err := s.After("ack:1", 10*time.Millisecond, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}, func() { dropped <- struct{}{} }); err != nil {
		t.Fatalf("After error: %v", err)
	}
	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("continuation refused by a full queue was never reported dropped")
	}
	close(block)
	select {
	case <-ran:
		t.Fatal("dropped continuation ran")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestContinuationDroppedOnReplaceAndStop(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Config{})
	var drops atomic.Int32
	never := func(context.Context) error {
		t.Error("continuation ran")
		return nil
	}
	for range 2 {
		if err := s.After("ack:2", time.Hour, never, func() { drops.Add(1) }); err != nil {
			t.Fatalf("After error: %v", err)
		}
	}
	if got := drops.Load(); got != 1 {
		t.Fatalf("drops after replacement = %d, want 1", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if got := drops.Load(); got != 2 {
		t.Fatalf("drops after Stop = %d, want 2", got)
	}
}

func TestAckLeadFixedAtConstruction(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Config{Timezone: "UTC", AckLead: 10 * time.Minute})
	if s.AckLead() != 10*time.Minute {
		t.Fatalf("AckLead = %v", s.AckLead())
	}
	s.Apply(Config{Timezone: "UTC", AckLead: time.Minute})
	if err := s.Schedule(weeklyReminder(40)); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Jobs) != 1 || snap.Jobs[0].Spec != "50 8 * * 1,3" {
		t.Fatalf("jobs = %+v, want 08:50 trigger", snap.Jobs)
	}
}
