package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/smartmove/internal/domain"
)

// marshalTelemetry converts the latest reading to JSON TEXT, or NULL when
// the vehicle has never reported.
func marshalTelemetry(t *domain.Telemetry) (sql.NullString, error) {
	if t == nil {
		return sql.NullString{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return sql.NullString{}, fmt.Errorf("marshal telemetry: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return sql.NullString{String: strings.TrimSpace(buf.String()), Valid: true}, nil
}

// unmarshalTelemetry parses stored JSON TEXT back into a reading.
func unmarshalTelemetry(data sql.NullString) (*domain.Telemetry, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var t domain.Telemetry
	if err := json.Unmarshal([]byte(data.String), &t); err != nil {
		return nil, fmt.Errorf("unmarshal telemetry: %w", err)
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
