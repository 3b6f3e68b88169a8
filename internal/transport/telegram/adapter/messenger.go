package adapter

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// AdminsRole is the built-in role resolving to the chat's administrators.
const AdminsRole = "admins"

// maxMentions caps how many members a role announcement pings inline.
const maxMentions = 30

// botAPI is the subset of *tele.Bot used by the Messenger.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	EditReplyMarkup(msg tele.Editable, markup *tele.ReplyMarkup) (*tele.Message, error)
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
	AdminsOf(chat *tele.Chat) ([]tele.ChatMember, error)
}

// RoleDirectory lists stored role memberships.
type RoleDirectory interface {
	ListRoleMembers(ctx context.Context, scopeID int64, role string) ([]storage.RoleMember, error)
}

// Messenger implements reminder.Messenger on top of the Telegram Bot API.
type Messenger struct {
	api     botAPI
	acks    *ackTracker
	markup  *tele.ReplyMarkup
	roles   RoleDirectory
	limiter *rate.Limiter
	log     logx.Logger
}

var _ reminder.Messenger = (*Messenger)(nil)

// Messenger returns the adapter's reminder.Messenger. Ack presses are
// tracked by the adapter's button handler.
func (a *Adapter) Messenger(roles RoleDirectory) *Messenger {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(a.ackBtn))
	return newMessenger(a.bot, a.acks, markup, roles, a.cfg.DMRatePerSec, a.log)
}

func newMessenger(api botAPI, acks *ackTracker, markup *tele.ReplyMarkup, roles RoleDirectory, perSec float64, log logx.Logger) *Messenger {
	if perSec <= 0 {
		perSec = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Messenger{
		api:     api,
		acks:    acks,
		markup:  markup,
		roles:   roles,
		limiter: rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec))),
		log:     log.With(logx.String("comp", "telegram.messenger")),
	}
}

// Publish posts text to ch, prefixed by the rendered mention.
func (m *Messenger) Publish(ctx context.Context, ch reminder.Channel, text string, mention reminder.Mention) (reminder.MessageRef, error) {
	body := tgui.Esc(text)
	if prefix := m.renderMention(ctx, ch.ChatID, mention); prefix != "" {
		body = tgui.JoinH("\n", prefix, body)
	}
	ref, err := sendChunks(ctx, m.api, ch, body.String(), &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true})
	if err != nil {
		return ref, fmt.Errorf("%w: publish to chat %d: %v", reminder.ErrUnreachable, ch.ChatID, err)
	}
	return ref, nil
}

func (m *Messenger) renderMention(ctx context.Context, scopeID int64, mention reminder.Mention) tgui.H {
	switch {
	case mention.UserID != 0:
		name := fmt.Sprintf("user %d", mention.UserID)
		if u, err := m.ResolveUser(ctx, scopeID, mention.UserID); err == nil && u.Name != "" {
			name = u.Name
		}
		return tgui.Mention(name, mention.UserID)
	case mention.Role != "":
		role := storage.NormalizeRole(mention.Role)
		head := tgui.B("@" + role)
		members, err := m.ListRoleMembers(ctx, scopeID, role)
		if err != nil {
			m.log.Debug("role members not resolvable for mention", logx.String("role", role), logx.Err(err))
			return head
		}
		parts := []tgui.H{head}
		for _, mem := range members {
			if mem.IsBot {
				continue
			}
			if len(parts) > maxMentions {
				break
			}
			name := mem.Name
			if name == "" {
				name = fmt.Sprintf("user %d", mem.ID)
			}
			parts = append(parts, tgui.Mention(name, mem.ID))
		}
		return tgui.JoinH(" ", parts...)
	default:
		return ""
	}
}

// AddAckAffordance attaches the ✅ button to ref and opens its ack window.
func (m *Messenger) AddAckAffordance(ctx context.Context, ref reminder.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.acks.open(ref)
	msg := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := m.api.EditReplyMarkup(msg, m.markup); err != nil {
		m.acks.close(ref)
		return fmt.Errorf("%w: attach ack button: %v", reminder.ErrUnreachable, err)
	}
	return nil
}

// CollectAcknowledgers closes the window of ref and removes the button.
func (m *Messenger) CollectAcknowledgers(ctx context.Context, ref reminder.MessageRef) map[int64]struct{} {
	acked := m.acks.close(ref)
	msg := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := m.api.EditReplyMarkup(msg, nil); err != nil {
		m.log.Debug("ack button not removed", logx.Int64("chat_id", ref.ChatID), logx.Int("msg_id", ref.MessageID), logx.Err(err))
	}
	return acked
}

// SendPrivate delivers text to userID's private chat, throttled by the DM limiter.
func (m *Messenger) SendPrivate(ctx context.Context, userID int64, text string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: user %d: %v", reminder.ErrUnreachable, userID, err)
	}
	_, err := m.api.Send(&tele.User{ID: userID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return classifySendError(userID, err)
}

// ListRoleMembers resolves role in scopeID. The admins role is answered by
// Telegram; every other role comes from the role directory.
func (m *Messenger) ListRoleMembers(ctx context.Context, scopeID int64, role string) ([]reminder.Member, error) {
	role = storage.NormalizeRole(role)
	if role == AdminsRole {
		admins, err := m.api.AdminsOf(&tele.Chat{ID: scopeID})
		if err != nil {
			return nil, fmt.Errorf("%w: admins of %d: %v", reminder.ErrUnreachable, scopeID, err)
		}
		out := make([]reminder.Member, 0, len(admins))
		for _, a := range admins {
			if a.User == nil {
				continue
			}
			out = append(out, reminder.Member{ID: a.User.ID, Name: displayName(a.User), IsBot: a.User.IsBot})
		}
		return out, nil
	}
	if m.roles == nil {
		return nil, errors.New("no role directory")
	}
	rows, err := m.roles.ListRoleMembers(ctx, scopeID, role)
	if err != nil {
		return nil, fmt.Errorf("list role %q: %w", role, err)
	}
	out := make([]reminder.Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, reminder.Member{ID: r.UserID, Name: r.Name, IsBot: r.IsBot})
	}
	return out, nil
}

func (m *Messenger) ResolveUser(ctx context.Context, scopeID, userID int64) (reminder.Member, error) {
	if err := ctx.Err(); err != nil {
		return reminder.Member{}, err
	}
	cm, err := m.api.ChatMemberOf(&tele.Chat{ID: scopeID}, &tele.User{ID: userID})
	if err != nil || cm == nil || cm.User == nil {
		return reminder.Member{}, fmt.Errorf("%w: resolve user %d in %d: %v", reminder.ErrUnreachable, userID, scopeID, err)
	}
	return reminder.Member{ID: cm.User.ID, Name: displayName(cm.User), IsBot: cm.User.IsBot}, nil
}

// CanViewChannel reports whether userID is currently a member of ch.
// Lookup failures count as not visible.
func (m *Messenger) CanViewChannel(ctx context.Context, userID int64, ch reminder.Channel) bool {
	if ctx.Err() != nil {
		return false
	}
	cm, err := m.api.ChatMemberOf(&tele.Chat{ID: ch.ChatID}, &tele.User{ID: userID})
	if err != nil || cm == nil {
		return false
	}
	return memberCanView(cm.Role)
}

func memberCanView(role tele.MemberStatus) bool {
	switch role {
	case tele.Left, tele.Kicked, "":
		return false
	default:
		return true
	}
}

// IsChatCreator reports whether userID created chatID. Used for owner checks
// on management commands.
func (a *Adapter) IsChatCreator(ctx context.Context, chatID, userID int64) bool {
	if ctx.Err() != nil {
		return false
	}
	cm, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	return err == nil && cm != nil && cm.Role == tele.Creator
}
