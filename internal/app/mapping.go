package app

import (
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/wizard"
	"remindbot/pkg/logx"
)

// Component settings derived from one config. Every duration has already
// been parsed; Validate guarantees the raw strings are well-formed.
type settings struct {
	telegram  telegram.Config
	logging   logx.Config
	storage   storage.Config
	engine    engine.Config
	scheduler scheduler.Config
	wizard    wizard.Config

	owners         []int64
	ackWindow      time.Duration
	announceChatID int64
	historyLimit   int
}

func mapConfig(cfg *config.Config) (settings, error) {
	var s settings

	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return s, err
	}
	s.telegram = telegram.Config{
		Token:        strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout:  poll,
		DMRatePerSec: cfg.Telegram.DMRatePerSec,
	}
	s.owners = append([]int64(nil), cfg.Telegram.OwnerUserIDs...)

	s.logging = mapLogConfig(cfg)

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return s, err
	}
	s.storage = storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}

	taskTimeout, err := config.ParseDurationOrDefault("scheduler.task_timeout", cfg.Scheduler.TaskTimeout, 10*time.Minute)
	if err != nil {
		return s, err
	}
	maxDelay, err := config.ParseDurationField("scheduler.max_queue_delay", cfg.Scheduler.MaxQueueDelay)
	if err != nil {
		return s, err
	}
	s.engine = engine.Config{
		Workers:        cfg.Scheduler.Workers,
		QueueSize:      cfg.Scheduler.QueueSize,
		DefaultTimeout: taskTimeout,
		MaxQueueDelay:  maxDelay,
	}

	// The trigger lead and the dispatcher's wait are one value.
	s.ackWindow, err = config.ParseDurationOrDefault("reminders.ack_window", cfg.Reminders.AckWindow, reminder.AckLead)
	if err != nil {
		return s, err
	}
	s.scheduler = mapSchedulerConfig(cfg, taskTimeout, s.ackWindow)

	step, err := config.ParseDurationField("wizard.step_timeout", cfg.Wizard.StepTimeout)
	if err != nil {
		return s, err
	}
	session, err := config.ParseDurationField("wizard.session_timeout", cfg.Wizard.SessionTimeout)
	if err != nil {
		return s, err
	}
	s.wizard = wizard.Config{StepTimeout: step, SessionTimeout: session}

	s.announceChatID = cfg.Reminders.AnnounceChatID
	s.historyLimit = cfg.Reminders.HistoryLimit
	return s, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config, taskTimeout, ackLead time.Duration) scheduler.Config {
	policy := scheduler.PastDueFire
	if strings.EqualFold(strings.TrimSpace(cfg.Scheduler.PastDue), string(scheduler.PastDueSkip)) {
		policy = scheduler.PastDueSkip
	}
	return scheduler.Config{
		Timezone:    strings.TrimSpace(cfg.Scheduler.Timezone),
		PastDue:     policy,
		TaskTimeout: taskTimeout,
		AckLead:     ackLead,
	}
}
