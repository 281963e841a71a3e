// Package storage persists the history of finished runs.
//
// Two drivers exist: an append-only JSON Lines file that is compacted once it
// holds twice the retention limit, and a SQLite database.
package storage
