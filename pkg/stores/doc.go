// Package stores keeps the snapshot history of settings files in SQLite.
// Each snapshot holds the record as JSON together with its source path,
// format and content digest, so later loads can be compared against it.
// The event log records what the watcher saw between snapshots.
package stores
