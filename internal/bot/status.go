package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"remindbot/pkg/tgui"
)

const statusNextJobs = 5

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	if r.d.Scheduler == nil {
		r.reply(ctx, req.Chat, "Scheduler is not running.")
		return nil
	}
	snap := r.d.Scheduler.Snapshot()
	all, err := r.d.Store.ListReminders(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}
	here := make(map[int64]bool, len(all))
	for _, rem := range all {
		here[rem.ID] = true
	}

	loc := r.location()
	state := "running"
	if !snap.Running {
		state = "stopped"
	}
	kinds := map[string]int{}
	for _, j := range snap.Jobs {
		kinds[j.Kind]++
	}
	lines := []string{
		"🩺 <b>Status</b>",
		fmt.Sprintf("Scheduler: %s · %s · past due: %s · ack lead: %s",
			state, html.EscapeString(snap.Timezone), snap.PastDue, snap.AckLead),
		fmt.Sprintf("Triggers: %d weekly · %d one-time · %d awaiting acks",
			kinds["weekly"], kinds["once"], kinds["continuation"]),
	}

	e := snap.Engine
	lines = append(lines,
		fmt.Sprintf("Queue: %d/%d · workers %d · running %d", e.QueueLen, e.QueueCap, e.Workers, e.InFlight),
		fmt.Sprintf("Dropped: %d full · %d stale · %d on stop · %d overlapping",
			e.DroppedQueueFull, e.DroppedStale, e.DroppedStopped, e.Skipped),
	)
	if e.MaxQueueDelay > 0 {
		lines = append(lines, "Stale after: "+e.MaxQueueDelay.String())
	}
	if n := len(e.History); n > 0 {
		last := e.History[n-1]
		line := fmt.Sprintf("Last run: %s %s ago", html.EscapeString(last.Name), time.Since(last.Started).Round(time.Second))
		if last.Error != "" {
			line += " · ❌ " + html.EscapeString(tgui.TruncRunes(last.Error, 80))
		}
		lines = append(lines, line)
	}

	var next []string
	for _, j := range snap.Jobs {
		if len(next) == statusNextJobs {
			break
		}
		if !here[j.ReminderID] || j.Next.IsZero() {
			continue
		}
		next = append(next, fmt.Sprintf("#%d · %s · %s", j.ReminderID, j.Kind, j.Next.In(loc).Format("Mon 2006-01-02 15:04")))
	}
	if len(next) > 0 {
		lines = append(lines, "", "<b>Next here</b>")
		lines = append(lines, next...)
	}
	r.replyHTML(ctx, req.Chat, strings.Join(lines, "\n"))
	return nil
}
