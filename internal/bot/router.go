package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/wizard"
	"remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessAllowed admits scope owners and allowed users.
	AccessAllowed
	// AccessOwner admits configured owners and the chat creator.
	AccessOwner
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	GroupOnly   bool
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update        kit.Update
	Chat          kit.ChatTarget
	FromID        int64
	FromName      string
	ReplyToFromID int64
	IsGroup       bool
	Command       string
	Args          []string
	ReqID         string
	Logger        logx.Logger
}

// Scheduler is the part of the reminder scheduler the commands drive.
type Scheduler interface {
	Schedule(r reminder.Reminder) error
	Cancel(id int64) bool
	Next(id int64) (time.Time, bool)
	Location() *time.Location
	Snapshot() scheduler.Snapshot
}

// CreatorChecker answers whether a user created a chat.
type CreatorChecker interface {
	IsChatCreator(ctx context.Context, chatID, userID int64) bool
}

type Deps struct {
	Adapter      kit.Adapter
	Store        storage.Store
	Scheduler    Scheduler
	Wizard       *wizard.Wizard
	Creators     CreatorChecker
	Owners       []int64
	HistoryLimit int
	Log          logx.Logger
}

const (
	wizardScope    = "wiz"
	wizardAnswer   = "ans"
	defaultTimeout = 15 * time.Second
)

// Router turns chat updates into command executions and wizard answers.
type Router struct {
	d        Deps
	log      logx.Logger
	sessions *wizard.Registry

	mu     sync.RWMutex
	cmds   map[string]*Command
	list   []*Command
	owners []int64

	historyLimit atomic.Int64

	runMu sync.Mutex
	sup   *rtsup.Supervisor
	jobs  chan func()
}

func New(d Deps) *Router {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	r := &Router{
		d:        d,
		log:      d.Log.With(logx.String("comp", "bot.router")),
		sessions: wizard.NewRegistry(),
		cmds:     map[string]*Command{},
	}
	r.SetOwners(d.Owners)
	r.SetHistoryLimit(d.HistoryLimit)
	r.register(r.commands())
	return r
}

func (r *Router) register(cmds []Command) {
	m := map[string]*Command{}
	list := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		if c.Name == "" || c.Handle == nil {
			continue
		}
		list = append(list, c)
		m[c.Name] = c
		for _, a := range c.Aliases {
			if a = strings.TrimSpace(a); a != "" {
				if _, exists := m[a]; !exists {
					m[a] = c
				}
			}
		}
	}
	r.mu.Lock()
	r.cmds, r.list = m, list
	r.mu.Unlock()
}

// SetOwners updates the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) SetHistoryLimit(n int) {
	if n <= 0 {
		n = 10
	}
	r.historyLimit.Store(int64(n))
}

// Sessions reports the number of live wizard sessions.
func (r *Router) Sessions() int { return r.sessions.Len() }

// Supervisor returns the router's supervisor (nil if not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// Run consumes updates until ctx ends or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	jobs := make(chan func(), 256)
	r.runMu.Lock()
	r.sup, r.jobs = sup, jobs
	r.runMu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	r.updateMenu(sup)
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(jobs)))

	defer func() {
		r.runMu.Lock()
		r.jobs = nil
		r.runMu.Unlock()
		close(jobs)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) tryEnqueue(fn func()) bool {
	r.runMu.Lock()
	jobs := r.jobs
	r.runMu.Unlock()
	if jobs == nil {
		return false
	}
	select {
	case jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil || msg.FromIsBot {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	name, args, isCmd := parseCommand(msg.Text)

	// An open wizard owns its user's plain messages and /cancel.
	key := wizard.Key{ChatID: msg.ChatID, UserID: msg.FromID}
	if r.sessions.Active(key) && (!isCmd || name == "cancel") {
		r.sessions.Offer(key, msg.Text)
		return
	}
	if !isCmd {
		return
	}

	r.mu.RLock()
	cmd := r.cmds[name]
	r.mu.RUnlock()
	if cmd == nil {
		if !msg.IsGroup {
			r.reply(ctx, chat, "Unknown command. Try /help")
		}
		return
	}

	rid := newReqID()
	req := &Request{
		Update:        up,
		Chat:          chat,
		FromID:        msg.FromID,
		FromName:      msg.FromName,
		ReplyToFromID: msg.ReplyToFromID,
		IsGroup:       msg.IsGroup,
		Command:       cmd.Name,
		Args:          args,
		ReqID:         rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	c := *cmd
	final := r.commandPipeline(&c)
	job := func() {
		if err := final(ctx, req); err != nil {
			r.reply(ctx, chat, "❌ Something went wrong, try again later.")
		}
	}
	if !r.tryEnqueue(job) {
		r.reply(ctx, chat, "Busy, try again")
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok || scope != wizardScope || action != wizardAnswer {
		return
	}
	text := ""
	if !r.sessions.Offer(wizard.Key{ChatID: cb.ChatID, UserID: cb.FromID}, payload) {
		text = "No open reminder setup for you here"
	}
	if !r.tryEnqueue(func() { _ = r.d.Adapter.AnswerCallback(ctx, cb.ID, text) }) {
		r.log.Debug("callback answer dropped", logx.String("callback_id", cb.ID))
	}
}

func (r *Router) authorize(ctx context.Context, access Access, req *Request) bool {
	switch access {
	case AccessEveryone:
		return true
	case AccessOwner:
		return r.isOwner(ctx, req.Chat.ChatID, req.FromID)
	case AccessAllowed:
		if r.isOwner(ctx, req.Chat.ChatID, req.FromID) {
			return true
		}
		ok, err := r.d.Store.IsAllowed(ctx, req.Chat.ChatID, req.FromID)
		if err != nil {
			req.Logger.Warn("allowed-user lookup failed", logx.Err(err))
			return false
		}
		return ok
	default:
		return false
	}
}

func (r *Router) isOwner(ctx context.Context, chatID, userID int64) bool {
	r.mu.RLock()
	owner := slices.Contains(r.owners, userID)
	r.mu.RUnlock()
	if owner {
		return true
	}
	return r.d.Creators != nil && r.d.Creators.IsChatCreator(ctx, chatID, userID)
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := r.d.Adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Debug("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (r *Router) replyHTML(ctx context.Context, to kit.ChatTarget, html string) {
	if _, err := r.d.Adapter.SendText(ctx, to, html, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"}); err != nil {
		r.log.Debug("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (r *Router) updateMenu(sup *rtsup.Supervisor) {
	up, ok := r.d.Adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	r.mu.RLock()
	menu := buildMenu(r.list)
	r.mu.RUnlock()
	sup.Go("telegram.menu.update", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	})
}
