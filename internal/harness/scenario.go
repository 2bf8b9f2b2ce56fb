package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/smartmove/internal/domain"
	"github.com/roach88/smartmove/internal/fleet"
)

// Scenario defines a scripted fleet run with assertions on its outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Zones is an optional restricted-zone CUE file. Relative paths are
	// resolved against the scenario file's directory.
	Zones string `yaml:"zones,omitempty"`

	// AuditGeofence enables ZONE_VIOLATION entries.
	AuditGeofence bool `yaml:"audit_geofence,omitempty"`

	// Setup seeds vehicles directly into the store. Seeded vehicles do not
	// appear in the audit trail.
	Setup []VehicleSpec `yaml:"setup,omitempty"`

	// Flow is the sequence of controller operations.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trail and state.
	Assertions []Assertion `yaml:"assertions"`
}

// VehicleSpec describes a seeded vehicle.
type VehicleSpec struct {
	ID           string `yaml:"id"`
	Type         string `yaml:"type"`
	State        string `yaml:"state,omitempty"`
	City         string `yaml:"city,omitempty"`
	RentalActive bool   `yaml:"rental_active,omitempty"`
}

// Vehicle converts the setup entry to a domain vehicle. An empty state becomes
// AVAILABLE.
func (s VehicleSpec) Vehicle() domain.Vehicle {
	state := domain.State(s.State)
	if state == "" {
		state = domain.StateAvailable
	}
	return domain.Vehicle{
		ID:           s.ID,
		Type:         domain.VehicleType(s.Type),
		State:        state,
		City:         domain.City(s.City),
		RentalActive: s.RentalActive,
	}
}

// Flow operations.
const (
	OpRegister    = "register"
	OpReserve     = "reserve"
	OpStart       = "start"
	OpEnd         = "end"
	OpChangeState = "change_state"
	OpTelemetry   = "telemetry"
)

// Step is one controller operation.
type Step struct {
	// Op selects the operation.
	Op string `yaml:"op"`

	// Vehicle is the target vehicle id.
	Vehicle string `yaml:"vehicle"`

	// Type is the vehicle type (register only).
	Type string `yaml:"type,omitempty"`

	// State is the initial state (register) or target state (change_state).
	State string `yaml:"state,omitempty"`

	// City is the operation city.
	City string `yaml:"city,omitempty"`

	// Reason is recorded by change_state.
	Reason string `yaml:"reason,omitempty"`

	// Telemetry is the reading (telemetry only).
	Telemetry *TelemetrySpec `yaml:"telemetry,omitempty"`

	// Expect validates the step outcome. If nil, the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// TelemetrySpec is a telemetry reading; the vehicle id comes from the step.
type TelemetrySpec struct {
	Latitude    float64 `yaml:"lat"`
	Longitude   float64 `yaml:"lon"`
	Battery     int     `yaml:"battery"`
	Temperature float64 `yaml:"temperature"`
	Helmet      bool    `yaml:"helmet"`
	Movement    bool    `yaml:"movement"`
	Fault       bool    `yaml:"fault"`
}

// Telemetry converts the step reading to a domain reading for vehicleID.
func (s TelemetrySpec) Telemetry(vehicleID string) domain.Telemetry {
	return domain.Telemetry{
		VehicleID:        vehicleID,
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		BatteryPercent:   s.Battery,
		TemperatureC:     s.Temperature,
		HelmetPresent:    s.Helmet,
		MovementDetected: s.Movement,
		Fault:            s.Fault,
	}
}

// Expect specifies the expected step outcome.
type Expect struct {
	// Error is the expected fleet error kind, e.g. "INVALID_STATE". Empty
	// means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// State is the vehicle state expected right after the step.
	State string `yaml:"state,omitempty"`
}

// Assertion validates the final trail or state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trail_contains": an entry with Event (and Details substring) exists
	// - "trail_order": Events appear in order
	// - "trail_count": Event appears exactly Count times
	// - "final_state": Vehicle matches State, City and RentalActive
	// - "payments": the ledger holds Count payments summing to Total
	Type string `yaml:"type"`

	Event   string   `yaml:"event,omitempty"`
	Details string   `yaml:"details,omitempty"`
	Events  []string `yaml:"events,omitempty"`
	Count   int      `yaml:"count,omitempty"`

	Vehicle      string `yaml:"vehicle,omitempty"`
	State        string `yaml:"state,omitempty"`
	City         string `yaml:"city,omitempty"`
	RentalActive *bool  `yaml:"rental_active,omitempty"`

	Total *float64 `yaml:"total,omitempty"`
}

// Assertion type constants.
const (
	AssertTrailContains = "trail_contains"
	AssertTrailOrder    = "trail_order"
	AssertTrailCount    = "trail_count"
	AssertFinalState    = "final_state"
	AssertPayments      = "payments"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative zones path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Zones != "" && !filepath.IsAbs(scenario.Zones) {
		scenario.Zones = filepath.Join(filepath.Dir(path), scenario.Zones)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, v := range s.Setup {
		if v.ID == "" {
			return fmt.Errorf("setup[%d]: id is required", i)
		}
		if _, err := domain.ParseVehicleType(v.Type); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if v.State != "" {
			if _, err := domain.ParseState(v.State); err != nil {
				return fmt.Errorf("setup[%d]: %w", i, err)
			}
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single flow step based on its op.
func validateStep(index int, s *Step) error {
	if s.Vehicle == "" {
		return fmt.Errorf("flow[%d]: vehicle is required", index)
	}

	switch s.Op {
	case OpRegister:
		if _, err := domain.ParseVehicleType(s.Type); err != nil {
			return fmt.Errorf("flow[%d]: %w", index, err)
		}
	case OpReserve, OpStart:
		if s.City == "" {
			return fmt.Errorf("flow[%d]: city is required for %s", index, s.Op)
		}
	case OpChangeState:
		if s.State == "" {
			return fmt.Errorf("flow[%d]: state is required for change_state", index)
		}
	case OpTelemetry:
		if s.Telemetry == nil {
			return fmt.Errorf("flow[%d]: telemetry is required for telemetry", index)
		}
	case OpEnd:
	case "":
		return fmt.Errorf("flow[%d]: op is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", index, s.Op)
	}

	if s.Expect != nil && s.Expect.Error != "" && !knownKind(s.Expect.Error) {
		return fmt.Errorf("flow[%d].expect: unknown error kind %q", index, s.Expect.Error)
	}
	return nil
}

func knownKind(kind string) bool {
	switch fleet.ErrorKind(kind) {
	case fleet.KindInvalidArgument, fleet.KindNotFound, fleet.KindInvalidState,
		fleet.KindRuleViolation, fleet.KindPersistence, fleet.KindCanceled:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTrailContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trail_contains", index)
		}
	case AssertTrailOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trail_order", index)
		}
	case AssertTrailCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trail_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trail_count", index)
		}
	case AssertFinalState:
		if a.Vehicle == "" {
			return fmt.Errorf("assertions[%d]: vehicle is required for final_state", index)
		}
		if a.State == "" && a.City == "" && a.RentalActive == nil {
			return fmt.Errorf("assertions[%d]: final_state needs at least one of state, city, rental_active", index)
		}
	case AssertPayments:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for payments", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
