package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service runs named tasks on a fixed pool of workers fed by a bounded
// queue. Every accepted task either runs or has its Dropped hook called.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	queue   chan pending
	sup     *rtsup.Supervisor
	stopCh  chan struct{}
	stopped chan struct{} // set while a Stop is draining

	log logx.Logger
	bus eventbus.Bus

	gatesMu sync.Mutex
	gates   map[string]*Gate

	hmu     sync.Mutex
	history []HistoryItem

	seq          atomic.Uint64
	inFlight     atomic.Int32
	skipped      atomic.Uint64
	droppedFull  atomic.Uint64
	droppedStale atomic.Uint64
	droppedStop  atomic.Uint64

	lastFullWarn  atomic.Int64
	lastStaleWarn atomic.Int64
}

type pending struct {
	task     Task
	gate     *Gate
	queuedAt time.Time
	timeout  time.Duration
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   withDefaults(cfg),
		log:   log.With(logx.String("comp", "taskengine")),
		bus:   bus,
		gates: make(map[string]*Gate),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	return cfg
}

// Apply swaps the config. A change of pool or queue size restarts the
// workers; tasks still queued at that point are dropped.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopped == nil
	s.mu.Unlock()

	if running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the workers. It is idempotent and waits for a pending Stop.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		wait := s.stopped
		s.mu.Unlock()
		if wait == nil {
			return
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}
	cfg := s.cfg
	queue := make(chan pending, cfg.QueueSize)
	stopCh := make(chan struct{})
	// Task failures must not cancel the app.
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.queue, s.stopCh, s.sup = queue, stopCh, sup
	s.mu.Unlock()

	for i := range cfg.Workers {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop cancels running tasks, waits for the workers (bounded by ctx) and
// drops whatever is still queued.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if wait := s.stopped; wait != nil {
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopped = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	sup.Cancel()
	go func() {
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		left := s.queue
		s.queue, s.stopCh, s.stopped, s.sup = nil, nil, nil, nil
		s.mu.Unlock()
		// Enqueue refuses work once stopped is set, so left cannot grow.
		for n := len(left); n > 0; n-- {
			p := <-left
			s.reject(p.task, p.gate, ErrStopped, time.Now())
		}
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue queues t without blocking. A task whose gate is taken is skipped
// with ErrOverlapSkip. Any other refusal drops the task. Refused tasks get
// their Dropped hook called before Enqueue returns.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.seq.Add(1))
	}

	gate := t.Gate
	if gate == nil {
		gate = s.gateFor(t.Name)
	}
	if !gate.enter() {
		s.skipped.Add(1)
		s.publish(eventbus.TypeTaskSkipped, now, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
		s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
		if t.Dropped != nil {
			t.Dropped(ErrOverlapSkip)
		}
		return ErrOverlapSkip
	}

	var err error
	s.mu.Lock()
	switch {
	case s.queue == nil:
		err = ErrStopped
	case s.stopped != nil:
		err = ErrStopping
	default:
		timeout := t.Timeout
		if timeout <= 0 {
			timeout = s.cfg.DefaultTimeout
		}
		select {
		case s.queue <- pending{task: t, gate: gate, queuedAt: now, timeout: timeout}:
		default:
			err = ErrQueueFull
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.reject(t, gate, err, now)
	}
	return err
}

// reject frees the gate, accounts the drop and tells the task.
func (s *Service) reject(t Task, gate *Gate, err error, now time.Time) {
	if gate != nil {
		gate.leave()
	}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: err.Error()}
	switch {
	case errors.Is(err, ErrQueueFull):
		s.droppedFull.Add(1)
		if s.warnDue(&s.lastFullWarn, now) {
			s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Uint64("dropped_queue_full", s.droppedFull.Load()))
		}
	case errors.Is(err, ErrStale):
		s.droppedStale.Add(1)
		if s.warnDue(&s.lastStaleWarn, now) {
			s.log.Warn("task dropped: stale queue", logx.String("task", t.Name), logx.Uint64("dropped_stale", s.droppedStale.Load()))
		}
	default:
		s.droppedStop.Add(1)
		s.log.Debug("task dropped", logx.String("task", t.Name), logx.Err(err))
	}
	s.publish(eventbus.TypeTaskDropped, now, ev)
	if t.Dropped != nil {
		t.Dropped(err)
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.queue
	running := s.stopCh != nil && s.stopped == nil
	s.mu.Unlock()

	s.hmu.Lock()
	h := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	return Snapshot{
		Running:          running,
		Workers:          cfg.Workers,
		QueueLen:         len(q),
		QueueCap:         cap(q),
		InFlight:         int(s.inFlight.Load()),
		DroppedQueueFull: s.droppedFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
		DroppedStopped:   s.droppedStop.Load(),
		Skipped:          s.skipped.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		History:          h,
	}
}

func (s *Service) gateFor(name string) *Gate {
	s.gatesMu.Lock()
	defer s.gatesMu.Unlock()
	g := s.gates[name]
	if g == nil {
		g = &Gate{}
		s.gates[name] = g
	}
	return g
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) warnDue(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, now.UnixNano())
}
