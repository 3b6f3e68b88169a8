package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// adminsRole is resolved by Telegram and cannot be joined or left.
const adminsRole = "admins"

func (r *Router) commands() []Command {
	return []Command{
		{
			Name:        "help",
			Aliases:     []string{"start"},
			Description: "show commands",
			Usage:       "/help [command]",
			Handle:      r.cmdHelp,
		},
		{
			Name:        "reminder",
			Description: "create a reminder step by step",
			Usage:       "/reminder",
			Access:      AccessAllowed,
			GroupOnly:   true,
			Handle:      r.cmdReminder,
		},
		{
			Name:        "reminders",
			Description: "list active reminders of this chat",
			Usage:       "/reminders",
			GroupOnly:   true,
			Handle:      r.cmdReminders,
		},
		{
			Name:        "reminder_cancel",
			Description: "stop a reminder (history is kept)",
			Usage:       "/reminder_cancel <id>",
			Access:      AccessAllowed,
			GroupOnly:   true,
			Handle:      r.cmdReminderCancel,
		},
		{
			Name:        "reminder_delete",
			Description: "delete a reminder (history is kept)",
			Usage:       "/reminder_delete <id>",
			Access:      AccessOwner,
			GroupOnly:   true,
			Handle:      r.cmdReminderDelete,
		},
		{
			Name:        "reminder_history",
			Description: "recent deliveries in this chat",
			Usage:       "/reminder_history [count]",
			GroupOnly:   true,
			Handle:      r.cmdHistory,
		},
		{
			Name:        "add_allowed_user",
			Description: "allow a user to create reminders",
			Usage:       "/add_allowed_user <user_id> (or reply to their message)",
			Access:      AccessOwner,
			GroupOnly:   true,
			Handle:      r.cmdAddAllowed,
		},
		{
			Name:        "remove_allowed_user",
			Description: "revoke reminder creation rights",
			Usage:       "/remove_allowed_user <user_id> (or reply to their message)",
			Access:      AccessOwner,
			GroupOnly:   true,
			Handle:      r.cmdRemoveAllowed,
		},
		{
			Name:        "role_join",
			Description: "join a role (allowed users can add others by replying)",
			Usage:       "/role_join <role>",
			GroupOnly:   true,
			Handle:      r.cmdRoleJoin,
		},
		{
			Name:        "role_leave",
			Description: "leave a role (allowed users can remove others by replying)",
			Usage:       "/role_leave <role>",
			GroupOnly:   true,
			Handle:      r.cmdRoleLeave,
		},
		{
			Name:        "roles",
			Description: "list roles of this chat",
			Usage:       "/roles [role]",
			GroupOnly:   true,
			Handle:      r.cmdRoles,
		},
		{
			Name:        "status",
			Description: "scheduler and delivery queue health",
			Usage:       "/status",
			Access:      AccessOwner,
			GroupOnly:   true,
			Handle:      r.cmdStatus,
		},
	}
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	name := ""
	if len(req.Args) > 0 {
		name = req.Args[0]
	}
	r.replyHTML(ctx, req.Chat, r.helpText(name))
	return nil
}

func (r *Router) cmdReminders(ctx context.Context, req *Request) error {
	all, err := r.d.Store.ListReminders(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}
	loc := r.location()
	lines := []string{"⏰ <b>Active reminders</b>"}
	for _, rem := range all {
		if !rem.Active {
			continue
		}
		line := fmt.Sprintf("#%d · %s · %s", rem.ID, targetLabel(rem), html.EscapeString(scheduleLabel(rem.Schedule, loc)))
		if rem.AckRequired {
			line += " · ✅"
		}
		if next, ok := r.nextRun(rem.ID); ok {
			line += " · next " + next.In(loc).Format("Mon 2006-01-02 15:04")
		}
		line += "\n   " + html.EscapeString(tgui.TruncRunes(rem.Message, 80))
		lines = append(lines, line)
	}
	if len(lines) == 1 {
		r.reply(ctx, req.Chat, "📭 No active reminders.")
		return nil
	}
	r.replyHTML(ctx, req.Chat, strings.Join(lines, "\n"))
	return nil
}

func (r *Router) cmdReminderCancel(ctx context.Context, req *Request) error {
	rem, ok := r.reminderArg(ctx, req)
	if !ok {
		return nil
	}
	if r.d.Scheduler != nil {
		r.d.Scheduler.Cancel(rem.ID)
	}
	if !rem.Active {
		r.reply(ctx, req.Chat, fmt.Sprintf("Reminder #%d is already inactive.", rem.ID))
		return nil
	}
	if err := r.d.Store.SetInactive(ctx, rem.ID); err != nil {
		return fmt.Errorf("deactivate reminder %d: %w", rem.ID, err)
	}
	req.Logger.Info("reminder cancelled", logx.Int64("reminder_id", rem.ID))
	r.reply(ctx, req.Chat, fmt.Sprintf("🛑 Reminder #%d cancelled.", rem.ID))
	return nil
}

func (r *Router) cmdReminderDelete(ctx context.Context, req *Request) error {
	rem, ok := r.reminderArg(ctx, req)
	if !ok {
		return nil
	}
	if r.d.Scheduler != nil {
		r.d.Scheduler.Cancel(rem.ID)
	}
	if err := r.d.Store.DeleteReminder(ctx, rem.ID); err != nil {
		return fmt.Errorf("delete reminder %d: %w", rem.ID, err)
	}
	req.Logger.Info("reminder deleted", logx.Int64("reminder_id", rem.ID))
	r.reply(ctx, req.Chat, fmt.Sprintf("🗑 Reminder #%d deleted.", rem.ID))
	return nil
}

// reminderArg loads the reminder named by the first argument. It replies and
// reports false when the argument is bad or the reminder belongs elsewhere.
func (r *Router) reminderArg(ctx context.Context, req *Request) (reminder.Reminder, bool) {
	if len(req.Args) == 0 {
		r.reply(ctx, req.Chat, "Usage: /"+req.Command+" <id>")
		return reminder.Reminder{}, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		r.reply(ctx, req.Chat, "Reminder id must be a number.")
		return reminder.Reminder{}, false
	}
	rem, found, err := r.d.Store.GetReminder(ctx, id)
	if err != nil {
		req.Logger.Warn("reminder lookup failed", logx.Int64("reminder_id", id), logx.Err(err))
		r.reply(ctx, req.Chat, "Could not load the reminder, try again later.")
		return reminder.Reminder{}, false
	}
	if !found || rem.ScopeID != req.Chat.ChatID {
		r.reply(ctx, req.Chat, fmt.Sprintf("Reminder #%d not found in this chat.", id))
		return reminder.Reminder{}, false
	}
	return rem, true
}

func (r *Router) cmdHistory(ctx context.Context, req *Request) error {
	limit := int(r.historyLimit.Load())
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			limit = min(n, 50)
		}
	}
	entries, err := r.d.Store.ListHistory(ctx, req.Chat.ChatID, limit)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if len(entries) == 0 {
		r.reply(ctx, req.Chat, "📭 History is empty.")
		return nil
	}
	loc := r.location()
	lines := []string{"📜 <b>History</b>"}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("#%d · %s · DMs: %d\n   <code>%s</code>",
			e.ReminderID, e.SentAt.In(loc).Format("2006-01-02 15:04"), e.DMCount, html.EscapeString(e.Detail)))
	}
	r.replyHTML(ctx, req.Chat, strings.Join(lines, "\n"))
	return nil
}

func (r *Router) cmdAddAllowed(ctx context.Context, req *Request) error {
	uid, ok := r.userArg(ctx, req)
	if !ok {
		return nil
	}
	if err := r.d.Store.AddAllowedUser(ctx, req.Chat.ChatID, uid); err != nil {
		return fmt.Errorf("add allowed user: %w", err)
	}
	req.Logger.Info("allowed user added", logx.Int64("user_id", uid))
	r.reply(ctx, req.Chat, fmt.Sprintf("✅ User %d can now create reminders.", uid))
	return nil
}

func (r *Router) cmdRemoveAllowed(ctx context.Context, req *Request) error {
	uid, ok := r.userArg(ctx, req)
	if !ok {
		return nil
	}
	removed, err := r.d.Store.RemoveAllowedUser(ctx, req.Chat.ChatID, uid)
	if err != nil {
		return fmt.Errorf("remove allowed user: %w", err)
	}
	if !removed {
		r.reply(ctx, req.Chat, fmt.Sprintf("User %d was not allowed.", uid))
		return nil
	}
	req.Logger.Info("allowed user removed", logx.Int64("user_id", uid))
	r.reply(ctx, req.Chat, fmt.Sprintf("User %d can no longer create reminders.", uid))
	return nil
}

// userArg takes the replied-to user first, then a numeric argument.
func (r *Router) userArg(ctx context.Context, req *Request) (int64, bool) {
	if req.ReplyToFromID != 0 {
		return req.ReplyToFromID, true
	}
	if len(req.Args) > 0 {
		if id, err := strconv.ParseInt(req.Args[0], 10, 64); err == nil && id > 0 {
			return id, true
		}
	}
	r.reply(ctx, req.Chat, "Usage: /"+req.Command+" <user_id>, or reply to the user's message.")
	return 0, false
}

func (r *Router) cmdRoleJoin(ctx context.Context, req *Request) error {
	role, uid, name, ok := r.roleArgs(ctx, req)
	if !ok {
		return nil
	}
	m := storage.RoleMember{ScopeID: req.Chat.ChatID, Role: role, UserID: uid, Name: name}
	if err := r.d.Store.AddRoleMember(ctx, m); err != nil {
		return fmt.Errorf("join role: %w", err)
	}
	r.replyHTML(ctx, req.Chat, fmt.Sprintf("%s joined %s.", tgui.Mention(displayOr(name, uid), uid), tgui.B("@"+role)))
	return nil
}

func (r *Router) cmdRoleLeave(ctx context.Context, req *Request) error {
	role, uid, name, ok := r.roleArgs(ctx, req)
	if !ok {
		return nil
	}
	removed, err := r.d.Store.RemoveRoleMember(ctx, req.Chat.ChatID, role, uid)
	if err != nil {
		return fmt.Errorf("leave role: %w", err)
	}
	if !removed {
		r.reply(ctx, req.Chat, fmt.Sprintf("Not a member of @%s.", role))
		return nil
	}
	r.replyHTML(ctx, req.Chat, fmt.Sprintf("%s left %s.", tgui.Mention(displayOr(name, uid), uid), tgui.B("@"+role)))
	return nil
}

// roleArgs resolves the role argument and the affected user: the sender, or
// the replied-to user when the sender may manage others.
func (r *Router) roleArgs(ctx context.Context, req *Request) (role string, uid int64, name string, ok bool) {
	if len(req.Args) == 0 {
		r.reply(ctx, req.Chat, "Usage: /"+req.Command+" <role>")
		return "", 0, "", false
	}
	role = storage.NormalizeRole(strings.Join(req.Args, "_"))
	if role == "" {
		r.reply(ctx, req.Chat, "Usage: /"+req.Command+" <role>")
		return "", 0, "", false
	}
	if role == adminsRole {
		r.reply(ctx, req.Chat, "@admins follows the chat's administrators and cannot be changed.")
		return "", 0, "", false
	}
	uid, name = req.FromID, req.FromName
	if req.ReplyToFromID != 0 && req.ReplyToFromID != req.FromID {
		if !r.authorize(ctx, AccessAllowed, req) {
			r.reply(ctx, req.Chat, "⛔ Only allowed users can change other people's roles.")
			return "", 0, "", false
		}
		uid, name = req.ReplyToFromID, ""
	}
	return role, uid, name, true
}

func (r *Router) cmdRoles(ctx context.Context, req *Request) error {
	if len(req.Args) > 0 {
		role := storage.NormalizeRole(req.Args[0])
		members, err := r.d.Store.ListRoleMembers(ctx, req.Chat.ChatID, role)
		if err != nil {
			return fmt.Errorf("list role members: %w", err)
		}
		if len(members) == 0 {
			r.reply(ctx, req.Chat, fmt.Sprintf("@%s has no members.", role))
			return nil
		}
		parts := make([]tgui.H, 0, len(members))
		for _, m := range members {
			parts = append(parts, tgui.Mention(displayOr(m.Name, m.UserID), m.UserID))
		}
		r.replyHTML(ctx, req.Chat, tgui.JoinH("\n", tgui.B("@"+role), tgui.JoinH(", ", parts...)).String())
		return nil
	}

	roles, err := r.d.Store.ListRoles(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	lines := []string{"👥 <b>Roles</b>", "@" + adminsRole + " (chat administrators)"}
	for _, role := range roles {
		members, err := r.d.Store.ListRoleMembers(ctx, req.Chat.ChatID, role)
		if err != nil {
			return fmt.Errorf("list role members: %w", err)
		}
		lines = append(lines, fmt.Sprintf("@%s (%d)", html.EscapeString(role), len(members)))
	}
	r.replyHTML(ctx, req.Chat, strings.Join(lines, "\n"))
	return nil
}

func (r *Router) location() *time.Location {
	if r.d.Scheduler != nil {
		return r.d.Scheduler.Location()
	}
	return time.Local
}

func (r *Router) nextRun(id int64) (time.Time, bool) {
	if r.d.Scheduler == nil {
		return time.Time{}, false
	}
	return r.d.Scheduler.Next(id)
}

func targetLabel(rem reminder.Reminder) string {
	if rem.Kind == reminder.KindUser {
		return tgui.Mention(fmt.Sprintf("user %d", rem.TargetUserID), rem.TargetUserID).String()
	}
	return tgui.B("@" + rem.RoleRef).String()
}

func scheduleLabel(s reminder.Schedule, loc *time.Location) string {
	if s.Kind == reminder.ScheduleOnce {
		return "once " + s.At.In(loc).Format("2006-01-02 15:04")
	}
	return s.String()
}

func displayOr(name string, id int64) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return "user " + strconv.FormatInt(id, 10)
}
