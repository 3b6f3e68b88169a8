package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// TokenEnv supplies telegram.token when the config leaves it empty.
const TokenEnv = "REMINDBOT_TOKEN"

var ErrNoToken = errors.New("telegram.token is required (or set " + TokenEnv + ")")

func applyEnv(cfg *Config) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = strings.TrimSpace(os.Getenv(TokenEnv))
	}
}

// Validate rejects configs that would fail at startup or during a hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, ErrNoToken)
	}
	if cfg.Telegram.DMRatePerSec < 0 {
		errs = append(errs, errors.New("telegram.dm_rate_per_sec must be >= 0"))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Scheduler.PastDue)) {
	case "", "fire", "skip":
	default:
		errs = append(errs, fmt.Errorf("scheduler.past_due: want fire or skip, got %q", cfg.Scheduler.PastDue))
	}
	if cfg.Scheduler.Workers < 0 {
		errs = append(errs, errors.New("scheduler.workers must be >= 0"))
	}
	if cfg.Scheduler.QueueSize < 0 {
		errs = append(errs, errors.New("scheduler.queue_size must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	if cfg.Reminders.HistoryLimit < 0 {
		errs = append(errs, errors.New("reminders.history_limit must be >= 0"))
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"scheduler.task_timeout", cfg.Scheduler.TaskTimeout},
		{"scheduler.max_queue_delay", cfg.Scheduler.MaxQueueDelay},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"wizard.step_timeout", cfg.Wizard.StepTimeout},
		{"wizard.session_timeout", cfg.Wizard.SessionTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if err := validateAckWindow(cfg.Reminders.AckWindow); err != nil {
		errs = append(errs, err)
	}
	step, _ := ParseDurationField("", cfg.Wizard.StepTimeout)
	session, _ := ParseDurationField("", cfg.Wizard.SessionTimeout)
	if step > 0 && session > 0 && session < step {
		errs = append(errs, errors.New("wizard.session_timeout must not be shorter than wizard.step_timeout"))
	}
	return errors.Join(errs...)
}

// Ack windows bound the trigger lead, which cron can only express in whole
// minutes.
const (
	minAckWindow = time.Minute
	maxAckWindow = time.Hour
)

func validateAckWindow(raw string) error {
	d, err := ParseDurationField("reminders.ack_window", raw)
	if err != nil || d == 0 {
		return err
	}
	if d%time.Minute != 0 {
		return fmt.Errorf("reminders.ack_window: %s is not a whole number of minutes", d)
	}
	if d < minAckWindow || d > maxAckWindow {
		return fmt.Errorf("reminders.ack_window: %s outside [%s, %s]", d, minAckWindow, maxAckWindow)
	}
	return nil
}
