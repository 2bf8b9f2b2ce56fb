package harness

import (
	"fmt"
	"math"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trail    []TrailEntry // Full trail for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trail) > 0 {
		fmt.Fprintf(&buf, "\nFull trail:\n")
		for _, entry := range e.Trail {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", entry.ID, entry.Event, entry.Details)
		}
	}

	return buf.String()
}

// assertTrailContains checks for an entry with the event whose details
// contain the expected substring.
func assertTrailContains(trail []TrailEntry, a Assertion) error {
	for _, entry := range trail {
		if entry.Event == a.Event && strings.Contains(entry.Details, a.Details) {
			return nil
		}
	}

	expected := a.Event
	if a.Details != "" {
		expected = fmt.Sprintf("%s with details containing %q", a.Event, a.Details)
	}
	return &AssertionError{
		Type:     AssertTrailContains,
		Expected: expected,
		Actual:   "not found in trail",
		Trail:    trail,
	}
}

// assertTrailOrder checks that events appear as a subsequence of the
// trail. Intervening entries are allowed.
func assertTrailOrder(trail []TrailEntry, a Assertion) error {
	next := 0
	for _, entry := range trail {
		if next < len(a.Events) && entry.Event == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}

	return &AssertionError{
		Type:     AssertTrailOrder,
		Expected: fmt.Sprintf("events in order: %v", a.Events),
		Actual:   fmt.Sprintf("matched %d of %d; missing %s", next, len(a.Events), a.Events[next]),
		Trail:    trail,
	}
}

// assertTrailCount checks the event appears exactly Count times.
func assertTrailCount(trail []TrailEntry, a Assertion) error {
	count := 0
	for _, entry := range trail {
		if entry.Event == a.Event {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTrailCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trail:    trail,
		}
	}
	return nil
}

// assertFinalState checks the stored vehicle against the specified fields.
func assertFinalState(result *Result, a Assertion) error {
	v, ok := result.Vehicles[a.Vehicle]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("vehicle %s stored", a.Vehicle),
			Actual:   "vehicle not found",
		}
	}

	var mismatches []string
	if a.State != "" && string(v.State) != a.State {
		mismatches = append(mismatches, fmt.Sprintf("state=%s (want %s)", v.State, a.State))
	}
	if a.City != "" && string(v.City) != a.City {
		mismatches = append(mismatches, fmt.Sprintf("city=%s (want %s)", v.City, a.City))
	}
	if a.RentalActive != nil && v.RentalActive != *a.RentalActive {
		mismatches = append(mismatches, fmt.Sprintf("rental_active=%t (want %t)", v.RentalActive, *a.RentalActive))
	}

	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("vehicle %s matches", a.Vehicle),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}

// assertPayments checks the ledger size and, if given, the fare total.
func assertPayments(result *Result, a Assertion) error {
	if len(result.Payments) != a.Count {
		return &AssertionError{
			Type:     AssertPayments,
			Expected: fmt.Sprintf("%d payments", a.Count),
			Actual:   fmt.Sprintf("%d payments", len(result.Payments)),
		}
	}

	if a.Total != nil {
		sum := 0.0
		for _, p := range result.Payments {
			sum += p.Total
		}
		if math.Abs(sum-*a.Total) > 1e-9 {
			return &AssertionError{
				Type:     AssertPayments,
				Expected: fmt.Sprintf("total %.2f", *a.Total),
				Actual:   fmt.Sprintf("total %.2f", sum),
			}
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTrailContains:
			err = assertTrailContains(result.Trail, assertion)
		case AssertTrailOrder:
			err = assertTrailOrder(result.Trail, assertion)
		case AssertTrailCount:
			err = assertTrailCount(result.Trail, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertPayments:
			err = assertPayments(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
