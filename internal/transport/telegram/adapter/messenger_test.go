package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type sent struct {
	to   string
	text string
	opt  *tele.SendOptions
}

type fakeAPI struct {
	mu       sync.Mutex
	sends    []sent
	edits    []*tele.ReplyMarkup
	sendErr  map[string]error
	editErr  error
	members  map[int64]tele.ChatMember // user id -> membership in any chat
	admins   []tele.ChatMember
	nextID   int
	memberEr error
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[to.Recipient()]; err != nil {
		return nil, err
	}
	s := sent{to: to.Recipient(), text: what.(string)}
	if len(opts) > 0 {
		s.opt, _ = opts[0].(*tele.SendOptions)
	}
	f.sends = append(f.sends, s)
	f.nextID++
	return &tele.Message{ID: f.nextID}, nil
}

func (f *fakeAPI) EditReplyMarkup(msg tele.Editable, markup *tele.ReplyMarkup) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.edits = append(f.edits, markup)
	return &tele.Message{}, nil
}

func (f *fakeAPI) ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error) {
	if f.memberEr != nil {
		return nil, f.memberEr
	}
	for id, m := range f.members {
		if user.Recipient() == (&tele.User{ID: id}).Recipient() {
			cm := m
			return &cm, nil
		}
	}
	return nil, errors.New("user not found")
}

func (f *fakeAPI) AdminsOf(chat *tele.Chat) ([]tele.ChatMember, error) {
	return f.admins, nil
}

type fakeRoles map[string][]storage.RoleMember

func (r fakeRoles) ListRoleMembers(_ context.Context, _ int64, role string) ([]storage.RoleMember, error) {
	return r[role], nil
}

func newTestMessenger(api *fakeAPI, roles RoleDirectory) *Messenger {
	return newMessenger(api, newAckTracker(), &tele.ReplyMarkup{}, roles, 1000, logx.Nop())
}

func TestPublishRendersRoleMention(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	roles := fakeRoles{"ops": {
		{UserID: 1, Name: "Ann"},
		{UserID: 2, Name: "<Bob>"},
		{UserID: 3, Name: "ci", IsBot: true},
	}}
	m := newTestMessenger(api, roles)

	ref, err := m.Publish(context.Background(), reminder.Channel{ChatID: -100, ThreadID: 7}, "deploy & test", reminder.Mention{Role: "@Ops"})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if ref.ChatID != -100 || ref.ThreadID != 7 || ref.MessageID != 1 {
		t.Fatalf("ref = %+v", ref)
	}
	got := api.sends[0]
	want := `<b>@ops</b> <a href="tg://user?id=1">Ann</a> <a href="tg://user?id=2">&lt;Bob&gt;</a>` + "\n" + "deploy &amp; test"
	if got.text != want {
		t.Fatalf("text =\n%s\nwant\n%s", got.text, want)
	}
	if got.opt == nil || got.opt.ParseMode != tele.ModeHTML || got.opt.ThreadID != 7 {
		t.Fatalf("send options = %+v", got.opt)
	}
}

func TestPublishFailureIsUnreachable(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{sendErr: map[string]error{"-100": errors.New("chat not found")}}
	m := newTestMessenger(api, nil)
	if _, err := m.Publish(context.Background(), reminder.Channel{ChatID: -100}, "x", reminder.Mention{}); !errors.Is(err, reminder.ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestAckWindowLifecycle(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	m := newTestMessenger(api, nil)
	ctx := context.Background()
	ref := kit.MessageRef{ChatID: -1, MessageID: 10}

	if m.acks.record(ref, 5) {
		t.Fatal("press before the window opened was accepted")
	}
	if err := m.AddAckAffordance(ctx, ref); err != nil {
		t.Fatalf("AddAckAffordance: %v", err)
	}
	m.acks.record(ref, 5)
	m.acks.record(ref, 6)
	m.acks.record(ref, 5)

	got := m.CollectAcknowledgers(ctx, ref)
	if len(got) != 2 {
		t.Fatalf("acknowledgers = %v", got)
	}
	if len(api.edits) != 2 || api.edits[0] == nil || api.edits[1] != nil {
		t.Fatalf("button not attached then removed: %v", api.edits)
	}
	if m.acks.record(ref, 7) {
		t.Fatal("press after collection was accepted")
	}
	if again := m.CollectAcknowledgers(ctx, ref); again == nil || len(again) != 0 {
		t.Fatalf("second collection = %v, want empty set", again)
	}
}

func TestAddAckAffordanceFailureClosesWindow(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{editErr: errors.New("message to edit not found")}
	m := newTestMessenger(api, nil)
	ref := kit.MessageRef{ChatID: -1, MessageID: 3}
	if err := m.AddAckAffordance(context.Background(), ref); !errors.Is(err, reminder.ErrUnreachable) {
		t.Fatalf("err = %v", err)
	}
	if m.acks.record(ref, 1) {
		t.Fatal("window left open after failure")
	}
}

func TestSendPrivateClassifiesErrors(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{sendErr: map[string]error{
		"1": tele.ErrBlockedByUser,
		"2": tele.ErrNotStartedByUser,
		"3": errors.New("connection reset"),
	}}
	m := newTestMessenger(api, nil)
	ctx := context.Background()

	cases := []struct {
		user int64
		want error
	}{
		{1, reminder.ErrBlocked},
		{2, reminder.ErrBlocked},
		{3, reminder.ErrUnreachable},
		{4, nil},
	}
	for _, tc := range cases {
		err := m.SendPrivate(ctx, tc.user, "hi")
		if tc.want == nil {
			if err != nil {
				t.Fatalf("user %d: unexpected error %v", tc.user, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("user %d: err = %v, want %v", tc.user, err, tc.want)
		}
	}
	if len(api.sends) != 1 || api.sends[0].to != "4" {
		t.Fatalf("sends = %+v", api.sends)
	}
}

func TestListRoleMembersAdminsFromTelegram(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{admins: []tele.ChatMember{
		{Role: tele.Creator, User: &tele.User{ID: 1, FirstName: "Ann"}},
		{Role: tele.Administrator, User: &tele.User{ID: 2, Username: "helper", IsBot: true}},
	}}
	m := newTestMessenger(api, fakeRoles{})
	got, err := m.ListRoleMembers(context.Background(), -1, "Admins")
	if err != nil {
		t.Fatalf("ListRoleMembers: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Ann" || got[1].Name != "@helper" || !got[1].IsBot {
		t.Fatalf("members = %+v", got)
	}
}

func TestCanViewChannel(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{members: map[int64]tele.ChatMember{
		1: {Role: tele.Member, User: &tele.User{ID: 1}},
		2: {Role: tele.Left, User: &tele.User{ID: 2}},
		3: {Role: tele.Kicked, User: &tele.User{ID: 3}},
		4: {Role: tele.Restricted, User: &tele.User{ID: 4}},
	}}
	m := newTestMessenger(api, nil)
	ch := reminder.Channel{ChatID: -1}
	for id, want := range map[int64]bool{1: true, 2: false, 3: false, 4: true, 99: false} {
		if got := m.CanViewChannel(context.Background(), id, ch); got != want {
			t.Fatalf("CanViewChannel(%d) = %v, want %v", id, got, want)
		}
	}
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	short := "hello"
	if got := splitTelegramText(short, 10, ""); len(got) != 1 || got[0] != short {
		t.Fatalf("short text split: %q", got)
	}

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(long, 10, "")
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("newline split: %q", got)
	}

	html := "abcdef<b>bold</b>"
	for _, chunk := range splitTelegramText(html, 8, tele.ModeHTML) {
		if strings.Count(chunk, "<") != strings.Count(chunk, ">") {
			t.Fatalf("chunk %q splits a tag", chunk)
		}
	}
}
