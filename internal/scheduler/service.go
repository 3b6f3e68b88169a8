package scheduler

import (
	"context"
	"strings"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

func New(cfg Config, eng *engine.Service, fire FireFunc, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = normalize(cfg)
	s := &Service{
		cfg:    cfg,
		lead:   cfg.AckLead,
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		engine: eng,
		fire:   fire,
		now:    time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:        map[string]*job{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

func normalize(cfg Config) Config {
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	if cfg.PastDue != PastDueSkip {
		cfg.PastDue = PastDueFire
	}
	if cfg.AckLead <= 0 {
		cfg.AckLead = reminder.AckLead
	}
	return cfg
}

// Location is the reference timezone for weekly triggers and wall-clock input.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// AckLead is the shift applied to ack-gated triggers.
func (s *Service) AckLead() time.Duration { return s.lead }

// Apply changes the timezone and the past-due policy. The ack lead keeps its
// construction value so it cannot drift from the dispatcher's window.
func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	cfg.AckLead = s.lead
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := s.cfg.Timezone
	s.cfg = cfg
	if oldTZ == cfg.Timezone {
		return
	}
	if s.c == nil {
		s.loc = s.loadLocationLocked()
		return
	}
	// Weekly entries are bound to the cron location: rebuild them.
	s.restartLocked()
}

// Start starts cron triggering and arms every registered job.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, j := range s.jobs {
		s.armLocked(j)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)), logx.String("past_due", string(s.cfg.PastDue)))
}

// Stop stops cron triggering and all timers. Registrations are kept and
// re-armed by the next Start; pending continuations are dropped.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	var dropped []func()
	for name, j := range s.jobs {
		s.disarmLocked(j, c)
		if j.kind == jobContinuation {
			delete(s.jobs, name)
			dropped = append(dropped, j.dropped)
		}
	}
	s.mu.Unlock()

	for _, fn := range dropped {
		fn()
	}
	if len(dropped) > 0 {
		s.log.Warn("pending continuations dropped", logx.Int("count", len(dropped)))
	}

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	old := s.c
	for _, j := range s.jobs {
		s.disarmLocked(j, old)
	}
	if old != nil {
		// Do not wait: running cron callbacks take s.mu in trigger.
		old.Stop()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, j := range s.jobs {
		s.armLocked(j)
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := s.cfg.Timezone
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
