package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/smartmove/internal/domain"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ReadVehicle returns the vehicle with the given id.
// The boolean is false when no such vehicle exists.
func (s *Store) ReadVehicle(ctx context.Context, id string) (domain.Vehicle, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, state, city, rental_active, telemetry
		FROM vehicles
		WHERE id = ?
	`, id)

	v, err := scanVehicle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Vehicle{}, false, nil
	}
	if err != nil {
		return domain.Vehicle{}, false, err
	}
	return v, true, nil
}

// ReadVehicles returns every vehicle ordered by id.
//
// Returns an empty slice (not nil) if the fleet is empty.
func (s *Store) ReadVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, state, city, rental_active, telemetry
		FROM vehicles
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	defer rows.Close()

	vehicles := []domain.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vehicles: %w", err)
	}

	return vehicles, nil
}

// ReadPayments returns every payment in insertion order.
//
// Returns an empty slice (not nil) if no payment has been recorded.
func (s *Store) ReadPayments(ctx context.Context) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vehicle_id, city, base_fare, congestion_charge, total, created_at
		FROM payments
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		var p domain.Payment
		var city string
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.VehicleID, &city, &p.BaseFare, &p.CongestionCharge, &p.Total, &createdAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.City = domain.City(city)
		p.Timestamp = time.UnixMilli(createdAt).UTC()
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return payments, nil
}

func scanVehicle(row rowScanner) (domain.Vehicle, error) {
	var v domain.Vehicle
	var vehicleType, state, city string
	var rentalActive int
	var telemetryJSON sql.NullString

	if err := row.Scan(&v.ID, &vehicleType, &state, &city, &rentalActive, &telemetryJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Vehicle{}, err
		}
		return domain.Vehicle{}, fmt.Errorf("scan vehicle: %w", err)
	}

	telemetry, err := unmarshalTelemetry(telemetryJSON)
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("vehicle %s: %w", v.ID, err)
	}

	v.Type = domain.VehicleType(vehicleType)
	v.State = domain.State(state)
	v.City = domain.City(city)
	v.RentalActive = rentalActive != 0
	v.Telemetry = telemetry
	return v, nil
}
