// Package store persists rule engine traces and space snapshots in SQLite.
//
// A trace is one row in runs plus its firings. Store implements the
// engine's Recorder, so passing it to engine.WithRecorder records every
// run as it happens. Snapshots hold CBOR-encoded spaces under a name.
//
// Ordering:
//   - Firings are returned by seq ASC, the engine's logical clock, never
//     by insertion time
//   - Runs and snapshots are returned by key, COLLATE BINARY
//
// Writes are idempotent: re-recording a run or firing that already exists
// is silently ignored.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
