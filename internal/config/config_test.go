package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  poll_timeout: 10s
logging:
  level: debug
  console: true
scheduler:
  timezone: UTC
  past_due: skip
  workers: 4
storage:
  driver: sqlite
  path: ./data/remindbot.db
reminders:
  announce_chat_id: -100
  ack_window: 5m
  history_limit: 20
wizard:
  step_timeout: 2m
  session_timeout: 4m
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || !slices.Equal(cfg.Telegram.OwnerUserIDs, []int64{1, 2}) {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Scheduler.PastDue != "skip" || cfg.Scheduler.Workers != 4 || cfg.Reminders.AnnounceChatID != -100 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"config.json": `{"telegram": {"token": "x"}, "plugins": {}}`,
		"config.yaml": "telegram:\n  token: x\n  group_log: -1\n",
	}
	for name, body := range cases {
		if _, err := NewManager(writeFile(t, name, body)).Parse(); err == nil {
			t.Fatalf("%s: expected unknown field error", name)
		}
	}
	if _, err := NewManager(writeFile(t, "config.json", `{} {}`)).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestTokenFromEnvironment(t *testing.T) {
	t.Setenv(TokenEnv, "env-token")
	cfg, err := NewManager(writeFile(t, "config.json", `{"storage": {"driver": "memory"}}`)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "x"},
			Storage:  StorageConfig{Driver: "memory"},
		}
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"past due", func(c *Config) { c.Scheduler.PastDue = "later" }, "scheduler.past_due"},
		{"sqlite path", func(c *Config) { c.Storage = StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"duration", func(c *Config) { c.Reminders.AckWindow = "five minutes" }, "reminders.ack_window"},
		{"ack window minutes", func(c *Config) { c.Reminders.AckWindow = "5m30s" }, "whole number of minutes"},
		{"ack window small", func(c *Config) { c.Reminders.AckWindow = "30s" }, "reminders.ack_window"},
		{"ack window large", func(c *Config) { c.Reminders.AckWindow = "2h" }, "reminders.ack_window"},
		{"ack window ok", func(c *Config) { c.Reminders.AckWindow = "10m" }, ""},
		{"queue delay", func(c *Config) { c.Scheduler.MaxQueueDelay = "soon" }, "scheduler.max_queue_delay"},
		{"negative", func(c *Config) { c.Wizard.StepTimeout = "-1s" }, "wizard.step_timeout"},
		{"wizard order", func(c *Config) {
			c.Wizard = WizardConfig{StepTimeout: "5m", SessionTimeout: "1m"}
		}, "session_timeout"},
	}
	for _, tc := range cases {
		cfg := valid()
		tc.mutate(cfg)
		err := Validate(cfg)
		switch {
		case tc.want == "" && err != nil:
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		case tc.want != "" && (err == nil || !strings.Contains(err.Error(), tc.want)):
			t.Fatalf("%s: err = %v, want mention of %q", tc.name, err, tc.want)
		}
	}
	if err := Validate(&Config{Storage: StorageConfig{Driver: "memory"}}); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", " 90s ", time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("90s: %v %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "soon", time.Second); err == nil || !strings.Contains(err.Error(), "x:") {
		t.Fatalf("bad: %v", err)
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	ctx := context.Background()

	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("unchanged reload = %v, %v", ok, err)
	}

	bad := strings.Replace(sampleYAML, "past_due: skip", "past_due: never", 1)
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(ctx); ok || err == nil {
		t.Fatalf("invalid reload = %v, %v", ok, err)
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("vetoed") })
	good := strings.Replace(sampleYAML, "level: debug", "level: info", 1)
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(ctx); ok || err == nil || !strings.Contains(err.Error(), "vetoed") {
		t.Fatalf("vetoed reload = %v, %v", ok, err)
	}

	m.SetValidator(nil)
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("good reload = %v, %v", ok, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "info" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatal("nothing published")
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("subscription not closed")
	}
}

func TestWatchPicksUpFileChange(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.debounce = 10 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	want := strings.Replace(sampleYAML, "workers: 4", "workers: 6", 1)
	deadline := time.After(5 * time.Second)
	for {
		// The watcher may not be registered yet; keep touching the file.
		if err := os.WriteFile(path, []byte(want), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-sub:
			if cfg.Scheduler.Workers != 6 {
				t.Fatalf("workers = %d", cfg.Scheduler.Workers)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-deadline:
			cancel()
			t.Fatal("change not published")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a", OwnerUserIDs: []int64{1}}}
	newCfg := &Config{
		Telegram:  TelegramConfig{Token: "b", OwnerUserIDs: []int64{1, 2}},
		Reminders: RemindersConfig{HistoryLimit: 5},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if !slices.Equal(sections, []string{"reminders", "telegram"}) || len(attrs) == 0 {
		t.Fatalf("sections = %v", sections)
	}
	if got := RestartRequired(oldCfg, newCfg); !slices.Equal(got, []string{"telegram.token"}) {
		t.Fatalf("restart = %v", got)
	}
	if s, _ := SummarizeConfigChange(newCfg, newCfg); len(s) != 0 {
		t.Fatalf("identical configs changed: %v", s)
	}
}
