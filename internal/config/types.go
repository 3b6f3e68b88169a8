package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "10s", "5m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	Wizard    WizardConfig    `json:"wizard"`
}

type TelegramConfig struct {
	// Token may be left empty when REMINDBOT_TOKEN is set in the environment.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
	// DMRatePerSec caps private message sends (default 20).
	DMRatePerSec float64 `json:"dm_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls triggers and the firing worker pool.
//
// Defaults (when fields are omitted/zero):
//   - timezone: local time of the host
//   - past_due: "fire"
//   - workers: 2
//   - queue_size: 256
//   - task_timeout: "10m"
//   - max_queue_delay: "" (firings never go stale)
type SchedulerConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	PastDue       string `json:"past_due,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	TaskTimeout   string `json:"task_timeout,omitempty"`
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
}

// StorageConfig selects the persistence backend.
//
//	"storage": { "driver": "sqlite", "path": "./data/remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type RemindersConfig struct {
	// AnnounceChatID sends every announcement to one chat instead of the
	// reminder's own group (0 disables).
	AnnounceChatID int64 `json:"announce_chat_id,omitempty"`
	// AckWindow is both how long a firing waits for acknowledgements and
	// how far ahead of the slot it triggers. Whole minutes, 1m to 60m.
	AckWindow    string `json:"ack_window,omitempty"`
	HistoryLimit int    `json:"history_limit,omitempty"`
}

type WizardConfig struct {
	StepTimeout    string `json:"step_timeout,omitempty"`
	SessionTimeout string `json:"session_timeout,omitempty"`
}
