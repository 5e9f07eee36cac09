// Package storage persists schedules, their execution history, user
// credential records, and pre-rotation snapshots in a single SQLite file.
//
// SQLite (via modernc.org/sqlite, pure Go) is deliberate: the engine is a
// single-process deployment and a handful of schedules per user, so one
// WAL-mode database file with a single writer is plenty.
package storage
