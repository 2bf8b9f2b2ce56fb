package domain

import (
	"fmt"
	"strings"
	"time"
)

// VehicleType is the kind of vehicle in the fleet.
type VehicleType string

const (
	VehicleEScooter VehicleType = "E_SCOOTER"
	VehicleMoped    VehicleType = "MOPED"
	VehicleEBike    VehicleType = "E_BIKE"
	VehicleCar      VehicleType = "CAR"
)

// VehicleTypes lists every supported vehicle type.
var VehicleTypes = []VehicleType{VehicleEScooter, VehicleMoped, VehicleEBike, VehicleCar}

// Valid reports whether t is a supported vehicle type.
func (t VehicleType) Valid() bool {
	for _, v := range VehicleTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseVehicleType parses a vehicle type name case-insensitively.
func ParseVehicleType(s string) (VehicleType, error) {
	t := VehicleType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown vehicle type %q", s)
	}
	return t, nil
}

// City is an operating city. Cities carry local regulation: congestion
// charging in London, geofenced scooter zones in Rome, and mandatory
// helmets for mopeds in Milan.
type City string

const (
	CityLondon City = "LONDON"
	CityRome   City = "ROME"
	CityMilan  City = "MILAN"
)

// Cities lists every operating city.
var Cities = []City{CityLondon, CityRome, CityMilan}

// Valid reports whether c is an operating city.
func (c City) Valid() bool {
	for _, v := range Cities {
		if v == c {
			return true
		}
	}
	return false
}

// ParseCity parses a city name case-insensitively.
func ParseCity(s string) (City, error) {
	c := City(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown city %q", s)
	}
	return c, nil
}

// Telemetry is a single sensor reading reported by a vehicle.
type Telemetry struct {
	VehicleID        string  `json:"vehicleId"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	BatteryPercent   int     `json:"batteryPercent"`
	TemperatureC     float64 `json:"temperatureC"`
	HelmetPresent    bool    `json:"helmetPresent"`
	MovementDetected bool    `json:"movementDetected"`
	Fault            bool    `json:"fault"`
}

// Vehicle is the stored record for one fleet vehicle.
//
// Telemetry points at an immutable reading and may be shared between
// copies. Use the With* helpers to derive modified vehicles.
type Vehicle struct {
	ID           string      `json:"id"`
	Type         VehicleType `json:"type"`
	State        State       `json:"state"`
	City         City        `json:"city,omitempty"`
	Telemetry    *Telemetry  `json:"telemetry,omitempty"`
	RentalActive bool        `json:"rentalActive"`
}

// WithState returns a copy of v in state s.
func (v Vehicle) WithState(s State) Vehicle {
	v.State = s
	return v
}

// WithCity returns a copy of v located in city c.
func (v Vehicle) WithCity(c City) Vehicle {
	v.City = c
	return v
}

// WithRentalActive returns a copy of v with RentalActive set to active.
func (v Vehicle) WithRentalActive(active bool) Vehicle {
	v.RentalActive = active
	return v
}

// WithTelemetry returns a copy of v holding its own copy of t.
func (v Vehicle) WithTelemetry(t Telemetry) Vehicle {
	v.Telemetry = &t
	return v
}

// Payment records the fare charged when a rental ends.
type Payment struct {
	ID               string    `json:"id"`
	VehicleID        string    `json:"vehicleId"`
	City             City      `json:"city"`
	BaseFare         float64   `json:"baseFare"`
	CongestionCharge float64   `json:"congestionCharge"`
	Total            float64   `json:"total"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewPayment builds a payment whose total is base + congestion.
func NewPayment(id, vehicleID string, city City, base, congestion float64, at time.Time) Payment {
	return Payment{
		ID:               id,
		VehicleID:        vehicleID,
		City:             city,
		BaseFare:         base,
		CongestionCharge: congestion,
		Total:            base + congestion,
		Timestamp:        at,
	}
}
