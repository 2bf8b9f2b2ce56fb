package store

import (
	"context"
	"fmt"

	"github.com/roach88/smartmove/internal/domain"
)

// WriteVehicle inserts or fully replaces a vehicle row.
// Every column is overwritten, so writing a previously read value
// restores the row exactly.
func (s *Store) WriteVehicle(ctx context.Context, v domain.Vehicle) error {
	telemetryJSON, err := marshalTelemetry(v.Telemetry)
	if err != nil {
		return fmt.Errorf("write vehicle: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vehicles (id, type, state, city, rental_active, telemetry)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			state = excluded.state,
			city = excluded.city,
			rental_active = excluded.rental_active,
			telemetry = excluded.telemetry
	`,
		v.ID,
		string(v.Type),
		string(v.State),
		string(v.City),
		boolToInt(v.RentalActive),
		telemetryJSON,
	)
	if err != nil {
		return fmt.Errorf("write vehicle: %w", err)
	}

	return nil
}

// DeleteVehicle removes a vehicle row. Deleting a missing id is not an error.
func (s *Store) DeleteVehicle(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete vehicle: %w", err)
	}
	return nil
}

// WritePayment appends a payment record. Payment ids are unique; a second
// write with the same id fails.
func (s *Store) WritePayment(ctx context.Context, p domain.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments
		(id, vehicle_id, city, base_fare, congestion_charge, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.VehicleID,
		string(p.City),
		p.BaseFare,
		p.CongestionCharge,
		p.Total,
		p.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write payment: %w", err)
	}

	return nil
}
