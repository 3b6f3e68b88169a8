package storage

import (
	"context"
	"errors"
	"strings"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

// Store is the persistence API used by the engine and the command layer.
type Store interface {
	reminder.Store

	ListReminders(ctx context.Context, scopeID int64) ([]reminder.Reminder, error)
	DeleteReminder(ctx context.Context, id int64) error
	// ListHistory returns the newest entries of a scope first.
	ListHistory(ctx context.Context, scopeID int64, limit int) ([]reminder.HistoryEntry, error)

	AddAllowedUser(ctx context.Context, scopeID, userID int64) error
	RemoveAllowedUser(ctx context.Context, scopeID, userID int64) (bool, error)

	AddRoleMember(ctx context.Context, m RoleMember) error
	RemoveRoleMember(ctx context.Context, scopeID int64, role string, userID int64) (bool, error)
	ListRoleMembers(ctx context.Context, scopeID int64, role string) ([]RoleMember, error)
	ListRoles(ctx context.Context, scopeID int64) ([]string, error)

	Close() error
}

// Open initializes the configured store. An empty driver means sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
