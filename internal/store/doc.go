// Package store provides SQLite-backed durable storage for fleet state.
//
// Two tables are kept:
//   - vehicles: one row per vehicle, replaced whole on every save
//   - payments: append-only fare records, ordered by insertion
//
// A vehicle row stores the full value, including the latest telemetry
// reading as JSON, so writing back a previously read Vehicle restores it
// exactly. The fleet controller relies on this for rollback.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Vehicles and Payments expose the store through the narrow repository
// shapes consumed by internal/fleet.
package store
