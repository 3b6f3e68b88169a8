package config

import (
	"slices"
	"sort"
	"strings"

	"remindbot/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.DMRatePerSec != nt.DMRatePerSec ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.past_due", newCfg.Scheduler.PastDue),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.max_queue_delay", newCfg.Scheduler.MaxQueueDelay),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Reminders != newCfg.Reminders {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Int64("reminders.announce_chat_id", newCfg.Reminders.AnnounceChatID),
			logx.String("reminders.ack_window", newCfg.Reminders.AckWindow),
			logx.Int("reminders.history_limit", newCfg.Reminders.HistoryLimit),
		)
	}

	if oldCfg.Wizard != newCfg.Wizard {
		changed = append(changed, "wizard")
		attrs = append(attrs,
			logx.String("wizard.step_timeout", newCfg.Wizard.StepTimeout),
			logx.String("wizard.session_timeout", newCfg.Wizard.SessionTimeout),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed keys that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	if oldCfg.Telegram.DMRatePerSec != newCfg.Telegram.DMRatePerSec {
		out = append(out, "telegram.dm_rate_per_sec")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Reminders.AckWindow != newCfg.Reminders.AckWindow {
		out = append(out, "reminders.ack_window")
	}
	if oldCfg.Wizard != newCfg.Wizard {
		out = append(out, "wizard")
	}
	return out
}
