package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"

	"github.com/google/uuid"
)

// ackHint tells the group how long the ✅ button stays open.
func ackHint(window time.Duration) string {
	span := window.String()
	if window >= time.Minute && window%time.Minute == 0 {
		n := int(window / time.Minute)
		span = strconv.Itoa(n) + " minutes"
		if n == 1 {
			span = "1 minute"
		}
	}
	return "\n\nPress ✅ within " + span + " to skip the private reminder."
}

// AckJobID names the scheduled continuation that closes the ack window of a firing.
func AckJobID(id int64) string { return "ack:" + strconv.FormatInt(id, 10) }

// FiringEvent is the payload of reminder lifecycle events.
type FiringEvent struct {
	FiringID   string
	ReminderID int64
	ScopeID    int64
	AckRef     MessageRef
	DMCount    int
}

type DispatcherOptions struct {
	Store     Store
	Messenger Messenger
	// Deferrer hosts the ack continuation. When nil (or when it refuses the
	// job) the firing waits inline for the window.
	Deferrer Deferrer
	Bus      eventbus.Bus
	Log      logx.Logger

	// AckWindow defaults to AckLead.
	AckWindow time.Duration
	// AnnounceChatID overrides the reminder scope as announcement channel when non-zero.
	AnnounceChatID int64
	Now            func() time.Time
}

// Dispatcher runs the two-phase send protocol for single firings.
type Dispatcher struct {
	store    Store
	msg      Messenger
	deferrer Deferrer
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	ackWindow time.Duration
	announce  atomic.Int64

	mu       sync.Mutex
	inFlight map[int64]string // reminder id -> firing id
}

type firing struct {
	id     string
	r      Reminder
	ch     Channel
	ackRef MessageRef
}

func NewDispatcher(opt DispatcherOptions) *Dispatcher {
	if opt.AckWindow <= 0 {
		opt.AckWindow = AckLead
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		store:     opt.Store,
		msg:       opt.Messenger,
		deferrer:  opt.Deferrer,
		bus:       opt.Bus,
		log:       log.With(logx.String("comp", "dispatcher")),
		now:       opt.Now,
		ackWindow: opt.AckWindow,
		inFlight:  map[int64]string{},
	}
	d.announce.Store(opt.AnnounceChatID)
	return d
}

// SetAnnounceChat changes the announcement override for future firings (0 disables it).
func (d *Dispatcher) SetAnnounceChat(chatID int64) { d.announce.Store(chatID) }

// InFlight reports whether a firing of id has started and not yet been recorded.
func (d *Dispatcher) InFlight(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[id]
	return ok
}

// Fire executes one firing of reminder id. A reminder that is gone or inactive
// ends the firing silently. Store failures and an ack wait cut short by ctx
// are returned; neither writes history.
func (d *Dispatcher) Fire(ctx context.Context, id int64) error {
	token := uuid.NewString()
	if !d.acquire(id, token) {
		d.log.Warn("firing already in flight; skipped", logx.Int64("reminder_id", id))
		return nil
	}

	r, ok, err := d.store.GetReminder(ctx, id)
	if err != nil {
		d.release(id, token)
		return fmt.Errorf("load reminder %d: %w", id, err)
	}
	if !ok || !r.Active {
		d.release(id, token)
		d.log.Debug("reminder gone or inactive; firing dropped", logx.Int64("reminder_id", id))
		return nil
	}

	f := &firing{id: token, r: r, ch: d.channelFor(r)}
	d.emit(eventbus.TypeReminderFired, f, 0)

	if !r.AckRequired {
		defer d.release(id, token)
		return d.complete(ctx, f)
	}

	f.ackRef = d.openAck(ctx, f)
	cont := func(ctx context.Context) error {
		defer d.release(id, token)
		return d.complete(ctx, f)
	}
	if d.deferrer != nil {
		dropped := func() {
			d.release(id, token)
			d.log.Warn("ack window closed without delivery; firing abandoned",
				logx.Int64("reminder_id", id), logx.String("firing", token))
		}
		err := d.deferrer.After(AckJobID(id), d.ackWindow, cont, dropped)
		if err == nil {
			return nil
		}
		d.log.Warn("ack continuation not scheduled; waiting inline", logx.Int64("reminder_id", id), logx.Err(err))
	}

	t := time.NewTimer(d.ackWindow)
	defer t.Stop()
	select {
	case <-t.C:
		return cont(ctx)
	case <-ctx.Done():
		d.release(id, token)
		return fmt.Errorf("ack window of reminder %d interrupted: %w", id, ctx.Err())
	}
}

// openAck publishes the ack prompt. Any failure yields a zero ref, which
// later collects as an empty ack set.
func (d *Dispatcher) openAck(ctx context.Context, f *firing) MessageRef {
	mention := Mention{Role: f.r.RoleRef}
	if f.r.Kind == KindUser {
		mention = Mention{UserID: f.r.TargetUserID}
	}
	ref, err := d.msg.Publish(ctx, f.ch, f.r.Message+ackHint(d.ackWindow), mention)
	if err != nil {
		d.log.Warn("ack prompt not published", logx.Int64("reminder_id", f.r.ID), logx.Err(err))
		return MessageRef{}
	}
	if err := d.msg.AddAckAffordance(ctx, ref); err != nil {
		d.log.Warn("ack affordance not attached", logx.Int64("reminder_id", f.r.ID), logx.Err(err))
		return MessageRef{}
	}
	d.emit(eventbus.TypeAckOpened, f, 0)
	return ref
}

func (d *Dispatcher) complete(ctx context.Context, f *firing) error {
	r := f.r
	acked := map[int64]struct{}{}
	if r.AckRequired && !f.ackRef.IsZero() {
		if got := d.msg.CollectAcknowledgers(ctx, f.ackRef); got != nil {
			acked = got
		}
	}

	if r.Kind == KindRole {
		if _, err := d.msg.Publish(ctx, f.ch, r.Message, Mention{Role: r.RoleRef}); err != nil {
			d.log.Warn("primary announcement failed", logx.Int64("reminder_id", r.ID), logx.Err(err))
		}
	}

	candidates := d.candidates(ctx, r)
	sent, exempt, blocked := 0, 0, 0
	for _, m := range candidates {
		if r.AckRequired {
			// Exemption needs the ack and current visibility of the prompt's channel.
			if _, ok := acked[m.ID]; ok && d.msg.CanViewChannel(ctx, m.ID, f.ch) {
				exempt++
				continue
			}
		}
		if err := d.msg.SendPrivate(ctx, m.ID, r.Message); err != nil {
			if errors.Is(err, ErrBlocked) {
				blocked++
			}
			d.log.Debug("private delivery failed", logx.Int64("reminder_id", r.ID), logx.Int64("user_id", m.ID), logx.Err(err))
			continue
		}
		sent++
	}

	entry := HistoryEntry{
		ReminderID: r.ID,
		SentAt:     d.now(),
		DMCount:    sent,
		Detail:     formatDetail(f, len(acked), len(candidates), exempt, blocked),
	}
	if err := d.store.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("record history for reminder %d: %w", r.ID, err)
	}
	if r.Schedule.Kind == ScheduleOnce {
		if err := d.store.SetInactive(ctx, r.ID); err != nil {
			return fmt.Errorf("deactivate reminder %d: %w", r.ID, err)
		}
	}

	d.log.Info("reminder delivered",
		logx.Int64("reminder_id", r.ID),
		logx.String("firing", f.id),
		logx.Int("dm_count", sent),
		logx.Int("acked", len(acked)),
		logx.Int("candidates", len(candidates)),
	)
	d.emit(eventbus.TypeReminderDelivered, f, sent)
	return nil
}

// candidates returns the deduplicated, non-automated fan-out set.
func (d *Dispatcher) candidates(ctx context.Context, r Reminder) []Member {
	var members []Member
	switch r.Kind {
	case KindRole:
		ms, err := d.msg.ListRoleMembers(ctx, r.ScopeID, r.RoleRef)
		if err != nil {
			d.log.Warn("role members unavailable", logx.Int64("reminder_id", r.ID), logx.String("role", r.RoleRef), logx.Err(err))
			return nil
		}
		members = ms
	case KindUser:
		m, err := d.msg.ResolveUser(ctx, r.ScopeID, r.TargetUserID)
		if err != nil {
			m = Member{ID: r.TargetUserID}
		}
		members = []Member{m}
	}

	out := make([]Member, 0, len(members))
	seen := make(map[int64]struct{}, len(members))
	for _, m := range members {
		if m.IsBot || m.ID == 0 {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (d *Dispatcher) channelFor(r Reminder) Channel {
	if id := d.announce.Load(); id != 0 {
		return Channel{ChatID: id}
	}
	return Channel{ChatID: r.ScopeID}
}

func (d *Dispatcher) acquire(id int64, token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[id]; busy {
		return false
	}
	d.inFlight[id] = token
	return true
}

// release frees id only if token still owns it.
func (d *Dispatcher) release(id int64, token string) {
	d.mu.Lock()
	if d.inFlight[id] == token {
		delete(d.inFlight, id)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) emit(typ string, f *firing, dmCount int) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: FiringEvent{
		FiringID:   f.id,
		ReminderID: f.r.ID,
		ScopeID:    f.r.ScopeID,
		AckRef:     f.ackRef,
		DMCount:    dmCount,
	}})
}

func formatDetail(f *firing, acked, candidates, exempt, blocked int) string {
	ack := "-"
	if !f.ackRef.IsZero() {
		ack = fmt.Sprintf("%d:%d", f.ackRef.ChatID, f.ackRef.MessageID)
	}
	return fmt.Sprintf("ack_msg=%s acked=%d candidates=%d exempt=%d blocked=%d firing=%s",
		ack, acked, candidates, exempt, blocked, f.id)
}
