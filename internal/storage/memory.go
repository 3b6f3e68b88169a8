package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"remindbot/internal/reminder"
)

type allowKey struct{ scope, user int64 }

type roleKey struct {
	scope int64
	role  string
	user  int64
}

// memoryStore keeps everything in process memory. All operations take one
// mutex, which gives the same per-row atomicity as the sqlite store.
type memoryStore struct {
	mu sync.Mutex

	nextID    int64
	reminders map[int64]reminder.Reminder

	nextHist int64
	history  []historyRow

	allowed map[allowKey]struct{}
	roles   map[roleKey]RoleMember
}

type historyRow struct {
	scopeID int64
	entry   reminder.HistoryEntry
}

// NewMemory returns an empty, non-persistent Store.
func NewMemory() Store {
	return &memoryStore{
		reminders: map[int64]reminder.Reminder{},
		allowed:   map[allowKey]struct{}{},
		roles:     map[roleKey]RoleMember{},
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) CreateReminder(_ context.Context, r reminder.Reminder) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.Schedule.Days = slices.Clone(r.Schedule.Days)
	m.reminders[r.ID] = r
	return r.ID, nil
}

func (m *memoryStore) GetReminder(_ context.Context, id int64) (reminder.Reminder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	return r, ok, nil
}

func (m *memoryStore) ListActiveReminders(context.Context) ([]reminder.Reminder, error) {
	return m.list(func(r reminder.Reminder) bool { return r.Active }), nil
}

func (m *memoryStore) ListReminders(_ context.Context, scopeID int64) ([]reminder.Reminder, error) {
	return m.list(func(r reminder.Reminder) bool { return r.ScopeID == scopeID }), nil
}

func (m *memoryStore) list(keep func(reminder.Reminder) bool) []reminder.Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range m.reminders {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryStore) SetInactive(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return fmt.Errorf("reminder %d: %w", id, reminder.ErrNotFound)
	}
	r.Active = false
	m.reminders[id] = r
	return nil
}

func (m *memoryStore) DeleteReminder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[id]; !ok {
		return fmt.Errorf("reminder %d: %w", id, reminder.ErrNotFound)
	}
	delete(m.reminders, id)
	return nil
}

func (m *memoryStore) AppendHistory(_ context.Context, e reminder.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHist++
	e.ID = m.nextHist
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	m.history = append(m.history, historyRow{scopeID: m.reminders[e.ReminderID].ScopeID, entry: e})
	return nil
}

func (m *memoryStore) ListHistory(_ context.Context, scopeID int64, limit int) ([]reminder.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reminder.HistoryEntry
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		if m.history[i].scopeID == scopeID {
			out = append(out, m.history[i].entry)
		}
	}
	return out, nil
}

func (m *memoryStore) IsAllowed(_ context.Context, scopeID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.allowed[allowKey{scopeID, userID}]
	return ok, nil
}

func (m *memoryStore) AddAllowedUser(_ context.Context, scopeID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowed[allowKey{scopeID, userID}] = struct{}{}
	return nil
}

func (m *memoryStore) RemoveAllowedUser(_ context.Context, scopeID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := allowKey{scopeID, userID}
	_, ok := m.allowed[k]
	delete(m.allowed, k)
	return ok, nil
}

func (m *memoryStore) AddRoleMember(_ context.Context, rm RoleMember) error {
	rm.Role = NormalizeRole(rm.Role)
	if rm.Role == "" {
		return errors.New("role name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[roleKey{rm.ScopeID, rm.Role, rm.UserID}] = rm
	return nil
}

func (m *memoryStore) RemoveRoleMember(_ context.Context, scopeID int64, role string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := roleKey{scopeID, NormalizeRole(role), userID}
	_, ok := m.roles[k]
	delete(m.roles, k)
	return ok, nil
}

func (m *memoryStore) ListRoleMembers(_ context.Context, scopeID int64, role string) ([]RoleMember, error) {
	role = NormalizeRole(role)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RoleMember
	for k, rm := range m.roles {
		if k.scope == scopeID && k.role == role {
			out = append(out, rm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memoryStore) ListRoles(_ context.Context, scopeID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for k := range m.roles {
		if k.scope != scopeID {
			continue
		}
		if _, ok := seen[k.role]; ok {
			continue
		}
		seen[k.role] = struct{}{}
		out = append(out, k.role)
	}
	sort.Strings(out)
	return out, nil
}
