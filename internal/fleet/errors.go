package fleet

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes controller failures so callers can branch on the
// class of failure instead of matching messages.
type ErrorKind string

const (
	// KindInvalidArgument is a missing or malformed input, rejected before
	// any lock is taken.
	KindInvalidArgument ErrorKind = "INVALID_ARGUMENT"

	// KindNotFound is a mutation addressed to a vehicle that does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindInvalidState is a lifecycle transition the state machine rejects,
	// or an operation that requires a state the vehicle is not in.
	KindInvalidState ErrorKind = "INVALID_STATE"

	// KindRuleViolation is a city regulation blocking an otherwise valid
	// transition, such as the Milan moped helmet rule.
	KindRuleViolation ErrorKind = "RULE_VIOLATION"

	// KindPersistence is a store, ledger, or audit write failure. The
	// vehicle snapshot has been restored (best-effort) before it is returned.
	KindPersistence ErrorKind = "PERSISTENCE"

	// KindCanceled means the caller's context ended while waiting for the
	// vehicle lock. Nothing was read or written.
	KindCanceled ErrorKind = "CANCELED"
)

// Error is the typed failure returned by every Controller operation.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op is the controller operation, e.g. "reserve".
	Op string

	// VehicleID identifies the affected vehicle, when known.
	VehicleID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.VehicleID != "" {
		msg = fmt.Sprintf("%s (vehicle=%s)", msg, e.VehicleID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is a controller error of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsInvalidArgument reports whether err is a validation failure.
func IsInvalidArgument(err error) bool {
	return IsKind(err, KindInvalidArgument)
}

// IsNotFound reports whether err is a mutation against a missing vehicle.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsStateError reports whether err was rejected after reading the vehicle
// and before any mutation: an invalid transition, a rule violation, or a
// missing vehicle on a mutating operation.
func IsStateError(err error) bool {
	switch KindOf(err) {
	case KindInvalidState, KindRuleViolation, KindNotFound:
		return true
	}
	return false
}

// IsPersistence reports whether err is a storage or audit write failure.
func IsPersistence(err error) bool {
	return IsKind(err, KindPersistence)
}

func invalidArgument(op, vehicleID, message string) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, VehicleID: vehicleID, Message: message}
}

func notFound(op, vehicleID string) *Error {
	return &Error{Kind: KindNotFound, Op: op, VehicleID: vehicleID, Message: "vehicle not found"}
}

func invalidState(op, vehicleID string, err error) *Error {
	return &Error{Kind: KindInvalidState, Op: op, VehicleID: vehicleID, Message: "invalid state", Err: err}
}

func ruleViolation(op, vehicleID, message string) *Error {
	return &Error{Kind: KindRuleViolation, Op: op, VehicleID: vehicleID, Message: message}
}

func persistence(op, vehicleID string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, VehicleID: vehicleID, Message: "persistence failure", Err: err}
}
