package reminder

import (
	"context"
	"time"
)

// Messenger is the chat platform surface the dispatcher depends on.
type Messenger interface {
	// Publish posts a group-visible announcement. Fails with ErrUnreachable.
	Publish(ctx context.Context, ch Channel, text string, mention Mention) (MessageRef, error)
	// AddAckAffordance attaches the acknowledge control to ref.
	AddAckAffordance(ctx context.Context, ref MessageRef) error
	// CollectAcknowledgers is best-effort: it returns an empty set on failure
	// and never includes automated accounts.
	CollectAcknowledgers(ctx context.Context, ref MessageRef) map[int64]struct{}
	// SendPrivate fails with ErrBlocked or ErrUnreachable.
	SendPrivate(ctx context.Context, userID int64, text string) error
	ListRoleMembers(ctx context.Context, scopeID int64, role string) ([]Member, error)
	ResolveUser(ctx context.Context, scopeID, userID int64) (Member, error)
	CanViewChannel(ctx context.Context, userID int64, ch Channel) bool
}

// Store is the persistence surface used by the engine. Each call must be
// atomic on its own row; the engine takes no locks around it.
type Store interface {
	CreateReminder(ctx context.Context, r Reminder) (int64, error)
	// GetReminder reports ok=false when the reminder does not exist.
	GetReminder(ctx context.Context, id int64) (r Reminder, ok bool, err error)
	ListActiveReminders(ctx context.Context) ([]Reminder, error)
	SetInactive(ctx context.Context, id int64) error
	AppendHistory(ctx context.Context, e HistoryEntry) error
	IsAllowed(ctx context.Context, scopeID, userID int64) (bool, error)
}

// Deferrer runs fn once after d under name. It must not hold a goroutine
// for the duration of the wait. After a nil error exactly one of fn and
// dropped is eventually called.
type Deferrer interface {
	After(name string, d time.Duration, fn func(ctx context.Context) error, dropped func()) error
}
