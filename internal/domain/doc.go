// Package domain defines the SmartMove fleet vocabulary: vehicles, their
// lifecycle states, telemetry readings, and rental payments.
//
// All types are plain values. A Vehicle read from storage is a snapshot;
// the With* helpers return modified copies and never alter the receiver,
// so a pre-mutation snapshot can always be written back unchanged.
//
// The lifecycle state machine lives in state.go and is a pure function
// of (from, to). It holds no locks and performs no I/O.
package domain
