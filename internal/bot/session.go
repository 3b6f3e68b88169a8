package bot

import (
	"context"
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
	"remindbot/internal/wizard"
	"remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// cmdReminder starts a wizard session for the sender in this chat. The
// session runs on its own goroutine so it never holds a command worker.
func (r *Router) cmdReminder(ctx context.Context, req *Request) error {
	if r.d.Wizard == nil {
		r.reply(ctx, req.Chat, "Reminder creation is not available.")
		return nil
	}
	sup := r.Supervisor()
	if sup == nil {
		return fmt.Errorf("router not running")
	}
	key := wizard.Key{ChatID: req.Chat.ChatID, UserID: req.FromID}
	chat, who := req.Chat, displayOr(req.FromName, req.FromID)
	p := wizard.NewChanPrompter(func(ctx context.Context, q wizard.Question) error {
		return r.sendQuestion(ctx, chat, who, q)
	})
	if !r.sessions.Begin(key, p) {
		r.reply(ctx, req.Chat, "You already have a reminder setup open here. Answer it or send /cancel.")
		return nil
	}

	s := wizard.NewSession(req.Chat.ChatID, req.FromID)
	log := req.Logger.With(logx.String("session", s.ID))
	sup.Go0("wizard."+s.ID, func(c context.Context) {
		defer r.sessions.End(key, p)
		rem, err := r.d.Wizard.Run(c, s, p)
		// The session context may be over; the closing reply still goes out.
		out := context.WithoutCancel(c)
		if err != nil {
			log.Debug("wizard session failed", logx.Err(err))
			r.reply(out, chat, wizardErrorText(err))
			return
		}
		text := fmt.Sprintf("✅ Reminder #%d created: %s → %s", rem.ID, scheduleLabel(rem.Schedule, r.location()), targetLabel(rem))
		if next, ok := r.nextRun(rem.ID); ok {
			text += "\nNext run: " + next.In(r.location()).Format("Mon 2006-01-02 15:04")
		}
		r.replyHTML(out, chat, text)
	})
	return nil
}

func (r *Router) sendQuestion(ctx context.Context, chat kit.ChatTarget, who string, q wizard.Question) error {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if len(q.Choices) > 0 {
		btns := make([]tele.Btn, 0, len(q.Choices))
		for _, c := range q.Choices {
			data, err := tgui.Data(wizardScope, wizardAnswer, c.Value)
			if err != nil {
				// Too long for a button; the user can still type it.
				continue
			}
			btns = append(btns, tgui.Btn(c.Label, data))
		}
		if len(btns) > 0 {
			opt.ReplyMarkupAdapter = tgui.Grid(2, btns)
		}
	}
	text := tgui.JoinH(" ", tgui.B(who+":"), tgui.Esc(q.Text)).String()
	_, err := r.d.Adapter.SendText(ctx, chat, text, opt)
	return err
}

// wizardErrorText is the user-facing ending of a failed session.
func wizardErrorText(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, wizard.ErrTimeout):
		return "⌛ Reminder setup timed out; nothing was saved."
	case errors.Is(err, wizard.ErrCancelled):
		return "Reminder setup cancelled."
	case errors.Is(err, wizard.ErrTooManyAttempts):
		return "Too many invalid answers; nothing was saved. Start again with /reminder."
	default:
		return "❌ Could not create the reminder: " + err.Error()
	}
}
