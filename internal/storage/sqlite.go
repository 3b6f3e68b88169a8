package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; every operation is a single statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Info("storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const reminderColumns = `id, scope_id, creator_id, kind, role_ref, target_user_id, message,
	schedule_kind, run_at, days, hour, minute, ack_required, active, created_at`

func (s *sqliteStore) CreateReminder(ctx context.Context, r reminder.Reminder) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var runAt, days any
	var hour, minute any
	switch r.Schedule.Kind {
	case reminder.ScheduleOnce:
		runAt = r.Schedule.At.UTC().Format(time.RFC3339)
	case reminder.ScheduleWeekly:
		days = reminder.FormatDays(r.Schedule.Days)
		hour, minute = r.Schedule.Hour, r.Schedule.Minute
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(scope_id, creator_id, kind, role_ref, target_user_id, message,
		   schedule_kind, run_at, days, hour, minute, ack_required, active, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ScopeID, r.CreatorID, string(r.Kind), nullStr(r.RoleRef), nullInt(r.TargetUserID), r.Message,
		string(r.Schedule.Kind), runAt, days, hour, minute, boolInt(r.AckRequired), boolInt(r.Active),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetReminder(ctx context.Context, id int64) (reminder.Reminder, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, false, nil
	}
	if err != nil {
		return reminder.Reminder{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) ListActiveReminders(ctx context.Context) ([]reminder.Reminder, error) {
	return s.queryReminders(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE active = 1 ORDER BY id`)
}

func (s *sqliteStore) ListReminders(ctx context.Context, scopeID int64) ([]reminder.Reminder, error) {
	return s.queryReminders(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE scope_id = ? ORDER BY id`, scopeID)
}

func (s *sqliteStore) SetInactive(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (s *sqliteStore) AppendHistory(ctx context.Context, e reminder.HistoryEntry) error {
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(reminder_id, scope_id, sent_at, dm_count, detail)
		 VALUES(?, COALESCE((SELECT scope_id FROM reminders WHERE id = ?), 0), ?, ?, ?)`,
		e.ReminderID, e.ReminderID, e.SentAt.UTC().Format(time.RFC3339Nano), e.DMCount, nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) ListHistory(ctx context.Context, scopeID int64, limit int) ([]reminder.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reminder_id, sent_at, dm_count, detail FROM history
		 WHERE scope_id = ? ORDER BY id DESC LIMIT ?`, scopeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.HistoryEntry
	for rows.Next() {
		var (
			e      reminder.HistoryEntry
			sentAt string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ReminderID, &sentAt, &e.DMCount, &detail); err != nil {
			return nil, err
		}
		e.SentAt, _ = time.Parse(time.RFC3339Nano, sentAt)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) IsAllowed(ctx context.Context, scopeID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM allowed_users WHERE scope_id = ? AND user_id = ?`, scopeID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) AddAllowedUser(ctx context.Context, scopeID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO allowed_users(scope_id, user_id) VALUES(?, ?)`, scopeID, userID)
	return err
}

func (s *sqliteStore) RemoveAllowedUser(ctx context.Context, scopeID, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM allowed_users WHERE scope_id = ? AND user_id = ?`, scopeID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) AddRoleMember(ctx context.Context, m RoleMember) error {
	role := NormalizeRole(m.Role)
	if role == "" {
		return errors.New("role name required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_members(scope_id, role, user_id, name, is_bot) VALUES(?,?,?,?,?)
		 ON CONFLICT(scope_id, role, user_id) DO UPDATE SET name = excluded.name, is_bot = excluded.is_bot`,
		m.ScopeID, role, m.UserID, nullStr(m.Name), boolInt(m.IsBot),
	)
	return err
}

func (s *sqliteStore) RemoveRoleMember(ctx context.Context, scopeID int64, role string, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM role_members WHERE scope_id = ? AND role = ? AND user_id = ?`,
		scopeID, NormalizeRole(role), userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) ListRoleMembers(ctx context.Context, scopeID int64, role string) ([]RoleMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope_id, role, user_id, name, is_bot FROM role_members
		 WHERE scope_id = ? AND role = ? ORDER BY user_id`, scopeID, NormalizeRole(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoleMember
	for rows.Next() {
		var (
			m     RoleMember
			name  sql.NullString
			isBot int
		)
		if err := rows.Scan(&m.ScopeID, &m.Role, &m.UserID, &name, &isBot); err != nil {
			return nil, err
		}
		m.Name = name.String
		m.IsBot = isBot != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListRoles(ctx context.Context, scopeID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT role FROM role_members WHERE scope_id = ? ORDER BY role`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *sqliteStore) queryReminders(ctx context.Context, q string, args ...any) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// A row that cannot be decoded is skipped so one corrupt reminder does
	// not hide the others.
	var out []reminder.Reminder
	skipped := 0
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			skipped++
			s.log.Warn("reminder row skipped", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.log.Error("unreadable reminders ignored", logx.Int("skipped", skipped), logx.Int("loaded", len(out)))
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(sc scanner) (reminder.Reminder, error) {
	var (
		r            reminder.Reminder
		kind, skind  string
		roleRef      sql.NullString
		target       sql.NullInt64
		runAt, days  sql.NullString
		hour, minute sql.NullInt64
		ack, active  int
		createdAt    string
	)
	err := sc.Scan(&r.ID, &r.ScopeID, &r.CreatorID, &kind, &roleRef, &target, &r.Message,
		&skind, &runAt, &days, &hour, &minute, &ack, &active, &createdAt)
	if err != nil {
		return reminder.Reminder{}, err
	}
	r.Kind = reminder.Kind(kind)
	r.RoleRef = roleRef.String
	r.TargetUserID = target.Int64
	r.AckRequired = ack != 0
	r.Active = active != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	switch reminder.ScheduleKind(skind) {
	case reminder.ScheduleOnce:
		at, err := time.Parse(time.RFC3339, runAt.String)
		if err != nil {
			return reminder.Reminder{}, fmt.Errorf("reminder %d: bad run_at %q: %w", r.ID, runAt.String, err)
		}
		r.Schedule = reminder.Once(at)
	case reminder.ScheduleWeekly:
		r.Schedule = reminder.Weekly(reminder.NormalizeDays(days.String), int(hour.Int64), int(minute.Int64))
	default:
		return reminder.Reminder{}, fmt.Errorf("reminder %d: unknown schedule kind %q", r.ID, skind)
	}
	return r, nil
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reminder %d: %w", id, reminder.ErrNotFound)
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
