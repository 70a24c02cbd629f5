// Package storage persists triggers and identities.
//
// Drivers:
//   - "memory": process-local maps (tests, dry runs)
//   - "file":   memory plus a JSON snapshot rewritten on every change
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL through pgx's database/sql driver
//
// It also keeps the notifier's dedup marks so they survive restarts.
package storage
