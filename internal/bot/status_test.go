package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/task/engine"
)

func TestStatusReportsQueueAndLocalJobs(t *testing.T) {
	t.Parallel()
	r, ad, st, sc := newTestRouter(t)
	ctx := context.Background()
	for _, chat := range []int64{group, group, -200} {
		if _, err := st.CreateReminder(ctx, reminder.Reminder{
			ScopeID: chat, CreatorID: ownerID, Kind: reminder.KindRole, RoleRef: "ops",
			Message: "standup", Schedule: reminder.Weekly([]time.Weekday{time.Monday}, 9, 0), Active: true,
		}); err != nil {
			t.Fatal(err)
		}
	}
	next := time.Date(2025, 8, 18, 8, 55, 0, 0, time.UTC)
	sc.snap = scheduler.Snapshot{
		Running:  true,
		Timezone: "UTC",
		PastDue:  scheduler.PastDueFire,
		AckLead:  5 * time.Minute,
		Jobs: []scheduler.JobInfo{
			{Name: "reminder:1", ReminderID: 1, Kind: "weekly", Next: next},
			{Name: "reminder:1:ack", ReminderID: 1, Kind: "continuation", Next: next.Add(5 * time.Minute)},
			{Name: "reminder:3", ReminderID: 3, Kind: "weekly", Next: next},
		},
		Engine: engine.Snapshot{
			Running: true, Workers: 2, QueueLen: 1, QueueCap: 8,
			DroppedQueueFull: 2, DroppedStale: 1, Skipped: 4,
			MaxQueueDelay: 2 * time.Minute,
			History:       []engine.HistoryItem{{Name: "reminder:1", Started: time.Now(), Error: "send failed"}},
		},
	}

	if err := r.cmdStatus(ctx, req(ownerID)); err != nil {
		t.Fatal(err)
	}
	out := ad.last()
	for _, want := range []string{
		"ack lead: 5m0s",
		"2 weekly · 0 one-time · 1 awaiting acks",
		"Queue: 1/8 · workers 2",
		"Dropped: 2 full · 1 stale · 0 on stop · 4 overlapping",
		"Stale after: 2m0s",
		"send failed",
		"#1 · weekly · Mon 2025-08-18 08:55",
		"#1 · continuation",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("status lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "#3") {
		t.Fatalf("status lists another chat's reminder:\n%s", out)
	}
}

func TestStatusIsOwnerOnly(t *testing.T) {
	t.Parallel()
	r, ad, _, _ := newTestRouter(t)
	r.mu.RLock()
	cmd := *r.cmds["status"]
	r.mu.RUnlock()
	h := r.commandPipeline(&cmd)

	if err := h(context.Background(), req(bob)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "not allowed") {
		t.Fatalf("stranger reply = %q", ad.last())
	}
	if err := h(context.Background(), req(ownerID)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "Status") {
		t.Fatalf("owner reply = %q", ad.last())
	}
}
