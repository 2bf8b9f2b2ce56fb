package harness

import (
	"github.com/roach88/smartmove/internal/audit"
	"github.com/roach88/smartmove/internal/domain"
)

// TrailEntry is the deterministic projection of an audit entry. Checksums
// and timestamps are omitted; the chain is verified separately.
type TrailEntry struct {
	ID      int64  `json:"id"`
	Event   string `json:"event"`
	Details string `json:"details"`
}

// StepOutcome records how one flow step ended.
type StepOutcome struct {
	Op      string `json:"op"`
	Vehicle string `json:"vehicle"`
	// Error is the fleet error kind, or empty on success.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and assertion
	// matched and the audit chain verified.
	Pass bool `json:"pass"`

	// Trail is the audit log in append order.
	Trail []TrailEntry `json:"trail"`

	// Steps records each flow step's outcome in order.
	Steps []StepOutcome `json:"steps"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Vehicles is the final store content keyed by id.
	Vehicles map[string]domain.Vehicle `json:"vehicles,omitempty"`

	// Payments is the final ledger in insertion order.
	Payments []domain.Payment `json:"payments,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trail:    []TrailEntry{},
		Steps:    []StepOutcome{},
		Errors:   []string{},
		Vehicles: make(map[string]domain.Vehicle),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrail appends audit entries to the trail.
func (r *Result) addTrail(entries []audit.Entry) {
	for _, e := range entries {
		r.Trail = append(r.Trail, TrailEntry{ID: e.ID, Event: e.Event, Details: e.Details})
	}
}
