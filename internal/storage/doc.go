// Package storage persists everything the alert engine reads and writes:
// the trigger feed and ticket bookkeeping, subscriptions, preferences, the
// append-only alert log with its dispatch claims, and acknowledgements.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "memory": process-local maps, used by tests and dry runs
package storage
