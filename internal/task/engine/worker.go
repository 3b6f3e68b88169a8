package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"
)

func (s *Service) work(ctx context.Context, stopCh <-chan struct{}, queue <-chan pending) {
	for {
		// A closed stopCh wins over queued work; Stop drops the rest.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case p := <-queue:
			s.inFlight.Add(1)
			s.run(ctx, p)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) run(ctx context.Context, p pending) {
	start := time.Now()
	wait := max(start.Sub(p.queuedAt), 0)

	s.mu.Lock()
	maxWait := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxWait > 0 && wait > maxWait {
		s.record(HistoryItem{ID: p.task.ID, Name: p.task.Name, Started: start, QueueDelay: wait, Error: ErrStale.Error()})
		s.reject(p.task, p.gate, fmt.Errorf("%w: %s", ErrStale, wait.Round(time.Millisecond)), start)
		return
	}
	defer p.gate.leave()

	s.log.Debug("task.started", logx.String("task", p.task.Name), logx.Duration("queue_delay", wait))
	s.publish(eventbus.TypeTaskStarted, start, TaskEvent{ID: p.task.ID, Name: p.task.Name, Started: start, QueueDelay: wait})

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	err := s.call(runCtx, p.task)
	cancel()

	took := time.Since(start)
	item := HistoryItem{ID: p.task.ID, Name: p.task.Name, Started: start, Duration: took, QueueDelay: wait}
	ev := TaskEvent{ID: p.task.ID, Name: p.task.Name, Started: start, QueueDelay: wait, Duration: took}
	if err != nil {
		item.Error, ev.Error = err.Error(), err.Error()
	}
	s.record(item)

	switch {
	case err != nil:
		s.log.Warn("task.failed", logx.String("task", p.task.Name), logx.Err(err), logx.Duration("dur", took))
		s.publish(eventbus.TypeTaskFailed, time.Now(), ev)
	case took >= 750*time.Millisecond:
		s.log.Info("task.completed", logx.String("task", p.task.Name), logx.Duration("dur", took))
		s.publish(eventbus.TypeTaskFinished, time.Now(), ev)
	default:
		s.log.Debug("task.completed", logx.String("task", p.task.Name), logx.Duration("dur", took))
		s.publish(eventbus.TypeTaskFinished, time.Now(), ev)
	}
}

// call runs t, turning a panic into an error so it cannot kill the worker.
func (s *Service) call(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}
