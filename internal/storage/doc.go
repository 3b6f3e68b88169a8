// Package storage persists reminders, their delivery history, allowed users
// and role memberships.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "memory": process-local maps, for tests and dry runs
package storage
