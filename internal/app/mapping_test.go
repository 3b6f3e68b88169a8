package app

import (
	"testing"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
)

func TestMapConfigSharesAckLead(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram:  config.TelegramConfig{Token: "x"},
		Storage:   config.StorageConfig{Driver: "memory"},
		Scheduler: config.SchedulerConfig{PastDue: "SKIP", MaxQueueDelay: "90s"},
		Reminders: config.RemindersConfig{AckWindow: "10m"},
	}
	s, err := mapConfig(cfg)
	if err != nil {
		t.Fatalf("mapConfig: %v", err)
	}
	if s.ackWindow != 10*time.Minute {
		t.Fatalf("ackWindow = %s, want 10m", s.ackWindow)
	}
	if s.scheduler.AckLead != s.ackWindow {
		t.Fatalf("scheduler lead %s differs from ack window %s", s.scheduler.AckLead, s.ackWindow)
	}
	if s.scheduler.PastDue != scheduler.PastDueSkip {
		t.Fatalf("past due = %q, want skip", s.scheduler.PastDue)
	}
	if s.engine.MaxQueueDelay != 90*time.Second {
		t.Fatalf("max queue delay = %s, want 90s", s.engine.MaxQueueDelay)
	}
}

func TestMapConfigDefaultAckLead(t *testing.T) {
	t.Parallel()
	s, err := mapConfig(&config.Config{Storage: config.StorageConfig{Driver: "memory"}})
	if err != nil {
		t.Fatalf("mapConfig: %v", err)
	}
	if s.ackWindow != reminder.AckLead || s.scheduler.AckLead != reminder.AckLead {
		t.Fatalf("leads = %s/%s, want %s", s.ackWindow, s.scheduler.AckLead, reminder.AckLead)
	}
	if s.engine.MaxQueueDelay != 0 {
		t.Fatalf("max queue delay = %s, want disabled", s.engine.MaxQueueDelay)
	}
}
