package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Genesis seeds the chain: the first entry's previousChecksum.
const Genesis = "GENESIS"

// Entry is one audit record. Timestamp is epoch milliseconds.
type Entry struct {
	ID               int64  `json:"id"`
	Timestamp        int64  `json:"timestamp"`
	Event            string `json:"event"`
	Details          string `json:"details"`
	PreviousChecksum string `json:"previousChecksum"`
	Checksum         string `json:"checksum"`
}

// Checksum computes the chain checksum for the given fields.
func Checksum(id, timestamp int64, event, details, previous string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(id, 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('|')
	b.WriteString(event)
	b.WriteByte('|')
	b.WriteString(details)
	b.WriteByte('|')
	b.WriteString(previous)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ErrIntegrity is the sentinel wrapped by every IntegrityError.
var ErrIntegrity = errors.New("audit log integrity violation")

// IntegrityError describes the first point where the chain breaks.
// Line is the 1-based line in the log file, or 0 when not known.
type IntegrityError struct {
	Line   int
	ID     int64
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	var b strings.Builder
	b.WriteString("audit integrity: ")
	b.WriteString(e.Reason)
	if e.ID != 0 {
		fmt.Fprintf(&b, " (id=%d", e.ID)
		if e.Line != 0 {
			fmt.Fprintf(&b, ", line=%d", e.Line)
		}
		b.WriteByte(')')
	} else if e.Line != 0 {
		fmt.Fprintf(&b, " (line=%d)", e.Line)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Is makes errors.Is(err, ErrIntegrity) match.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// IsIntegrityError reports whether err is or wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// Verify checks a full chain in file order. Ids must run 1..N, each
// previousChecksum must equal the prior checksum (GENESIS for the first),
// and every checksum must recompute.
func Verify(entries []Entry) error {
	return verifyChain(entries, nil)
}

// verifyChain is Verify with optional file line numbers for diagnostics.
func verifyChain(entries []Entry, lines []int) error {
	lineOf := func(i int) int {
		if i < len(lines) {
			return lines[i]
		}
		return 0
	}

	prev := Genesis
	for i, e := range entries {
		want := int64(i + 1)
		if e.ID != want {
			return &IntegrityError{
				Line:   lineOf(i),
				ID:     e.ID,
				Reason: fmt.Sprintf("id gap: expected %d, found %d", want, e.ID),
			}
		}
		if e.PreviousChecksum != prev {
			return &IntegrityError{Line: lineOf(i), ID: e.ID, Reason: "previous checksum does not match chain"}
		}
		if got := Checksum(e.ID, e.Timestamp, e.Event, e.Details, e.PreviousChecksum); got != e.Checksum {
			return &IntegrityError{Line: lineOf(i), ID: e.ID, Reason: "checksum mismatch"}
		}
		prev = e.Checksum
	}
	return nil
}
