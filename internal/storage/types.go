package storage

import (
	"errors"
	"strings"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": non-persistent, process-local
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RoleMember is one user's membership in a named role of a scope.
type RoleMember struct {
	ScopeID int64
	Role    string
	UserID  int64
	Name    string
	IsBot   bool
}

// NormalizeRole is the canonical (stored) spelling of a role name.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(role), "@"))
}
