package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrail renders the trail one entry per line as "ID EVENT DETAILS",
// followed by the step outcomes. The output is stable across runs.
func FormatTrail(result *Result) []byte {
	var buf bytes.Buffer
	for _, e := range result.Trail {
		fmt.Fprintf(&buf, "%d %s %s\n", e.ID, e.Event, e.Details)
	}
	buf.WriteString("--\n")
	for i, s := range result.Steps {
		outcome := "ok"
		if s.Error != "" {
			outcome = s.Error
		}
		fmt.Fprintf(&buf, "step %d %s %s %s\n", i, s.Op, s.Vehicle, outcome)
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares its trail against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the scenario cannot be run. Assertion failures and
// golden mismatches fail t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's trail against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, FormatTrail(result))
}
