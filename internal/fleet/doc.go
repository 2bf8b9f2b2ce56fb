// Package fleet implements the SmartMove fleet controller.
//
// The Controller owns every vehicle-affecting operation: registration,
// reservation, rental start and end, generic state changes, and telemetry
// handling. It coordinates four collaborators supplied by the caller:
//
//   - VehicleStore: durable vehicle records (internal/store)
//   - PaymentLedger: append-only fare records (internal/store)
//   - AuditLog: hash-chained event ledger (internal/audit)
//   - ZoneQuery: restricted-zone lookups (internal/zones)
//
// # Locking
//
// A lock registry hands out one lock per vehicle id, created on first use
// and never evicted. All mutations of a vehicle, foreground or telemetry,
// run entirely inside its lock. The audit log serializes its own appends,
// so audit ids follow global event order even when different vehicles
// mutate in parallel.
//
// # Write discipline
//
// Vehicles are values. A mutation reads the record (the snapshot), derives
// a new value, saves it, and then appends its audit entries. If the save
// or any append fails, the snapshot is saved back and the caller gets a
// KindPersistence error. A failed restore is logged and swallowed.
//
// # Telemetry
//
// SendTelemetry enqueues onto an unbounded FIFO and returns at once. Run
// is the single consumer: it handles readings one at a time, across all
// vehicles, and logs and skips any reading that fails. Cancelling Run's
// context stops it without draining the queue.
//
// Usage:
//
//	ctrl := fleet.New(st.Vehicles(), st.Payments(), auditLog, zoneSvc)
//	go ctrl.Run(ctx)
//	err := ctrl.ReserveVehicle(ctx, "v1", domain.CityRome)
package fleet
