package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1}, bus)

	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "job:1", Run: func(context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	<-done
	ev := waitEvent(t, events, eventbus.TypeTaskFinished).Data.(TaskEvent)
	if ev.Name != "job:1" || ev.Error != "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if h := s.Snapshot().History; len(h) != 1 || h[0].Name != "job:1" {
		t.Fatalf("history = %+v", h)
	}
}

func TestOverlapSkipsSecondEnqueue(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	err := s.Enqueue(Task{Name: "job:7", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	<-started
	var skipErr error
	err = s.Enqueue(Task{
		Name:    "job:7",
		Run:     func(context.Context) error { return nil },
		Dropped: func(err error) { skipErr = err },
	})
	if !errors.Is(err, ErrOverlapSkip) || !errors.Is(skipErr, ErrOverlapSkip) {
		t.Fatalf("second Enqueue err = %v, dropped with %v", err, skipErr)
	}
	if err := s.Enqueue(Task{Name: "job:8", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("other job Enqueue error: %v", err)
	}
	close(release)

	// The gate opens once the first run ends.
	again := make(chan struct{})
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.Enqueue(Task{Name: "job:7", Run: func(context.Context) error { close(again); return nil }})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrOverlapSkip) || time.Now().After(deadline) {
			t.Fatalf("gate never released: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	<-again
	if got := s.Snapshot().Skipped; got < 1 {
		t.Fatalf("Skipped = %d, want at least 1", got)
	}
}

func TestStopDropsQueuedTasks(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	if err := s.Enqueue(Task{Name: "busy", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("Enqueue busy: %v", err)
	}
	<-started
	dropped := make(chan error, 1)
	if err := s.Enqueue(Task{
		Name:    "queued",
		Run:     func(context.Context) error { t.Error("queued task ran after Stop"); return nil },
		Dropped: func(err error) { dropped <- err },
	}); err != nil {
		t.Fatalf("Enqueue queued: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	select {
	case err := <-dropped:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("dropped with %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued task never reported dropped")
	}
	if got := s.Snapshot().DroppedStopped; got != 1 {
		t.Fatalf("DroppedStopped = %d", got)
	}

	// The drained task's gate is open for the next run.
	s.Start(context.Background())
	defer s.Stop(ctx)
	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { close(done); return nil }}); err != nil {
		t.Fatalf("Enqueue after restart: %v", err)
	}
	<-done
}

func TestStaleTaskDropped(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, MaxQueueDelay: 10 * time.Millisecond}, nil)

	if err := s.Enqueue(Task{Name: "slow", Run: func(context.Context) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue slow: %v", err)
	}
	dropped := make(chan error, 1)
	if err := s.Enqueue(Task{
		Name:    "late",
		Run:     func(context.Context) error { t.Error("stale task ran"); return nil },
		Dropped: func(err error) { dropped <- err },
	}); err != nil {
		t.Fatalf("Enqueue late: %v", err)
	}
	select {
	case err := <-dropped:
		if !errors.Is(err, ErrStale) {
			t.Fatalf("dropped with %v, want ErrStale", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stale task never dropped")
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1}, bus)

	if err := s.Enqueue(Task{Name: "bad", Run: func(context.Context) error { panic("oops") }}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	ev := waitEvent(t, events, eventbus.TypeTaskFailed).Data.(TaskEvent)
	if ev.Name != "bad" || ev.Error == "" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// The worker survives and runs the next task.
	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "good", Run: func(context.Context) error { close(done); return nil }}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestTaskTimeoutApplied(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond}, nil)
	errCh := make(chan error, 1)
	if err := s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task timeout not applied")
	}
}

func TestEnqueueBeforeStartFails(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue err = %v, want ErrStopped", err)
	}
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("expected error for nil Run")
	}
}
