package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	harnessScenarios = "../harness/testdata/scenarios"
	harnessGolden    = "../harness/testdata/golden"
)

const failingScenario = `name: wrong_fare
description: "London rentals include the congestion charge"
flow:
  - op: register
    vehicle: v1
    type: E_SCOOTER
  - op: reserve
    vehicle: v1
    city: LONDON
  - op: start
    vehicle: v1
    city: LONDON
  - op: end
    vehicle: v1
assertions:
  - type: payments
    count: 1
    total: 10.0
`

func TestScenario_HarnessTestdata(t *testing.T) {
	out, err := execute(t, "scenario", harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ rental_rome")
	assert.Contains(t, out, "✓ london_congestion")
	assert.Contains(t, out, "✓ theft_alarm")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestScenario_FilterAndJSON(t *testing.T) {
	out, err := execute(t, "scenario", harnessScenarios, "--filter", "rome_*", "--format", "json")
	require.NoError(t, err, out)

	var resp struct {
		Status string          `json:"status"`
		Data   ScenarioSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "rome_geofence", resp.Data.Scenarios[0].Name)
}

func TestScenario_Failure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrong_fare.yaml")
	require.NoError(t, os.WriteFile(path, []byte(failingScenario), 0o644))

	out, err := execute(t, "scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_fare")
	assert.Contains(t, out, "1 failed")
}

func TestScenario_GoldenUpdateAndMismatch(t *testing.T) {
	golden := t.TempDir()
	src := filepath.Join(harnessScenarios, "rental_rome.yaml")

	out, err := execute(t, "scenario", src, "--golden", golden, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "golden updated")

	want, err := os.ReadFile(filepath.Join(harnessGolden, "rental_rome.golden"))
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(golden, "rental_rome.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	require.NoError(t, os.WriteFile(filepath.Join(golden, "rental_rome.golden"), []byte("stale\n"), 0o644))
	out, err = execute(t, "scenario", src, "--golden", golden)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestScenario_CommandErrors(t *testing.T) {
	_, err := execute(t, "scenario", harnessScenarios, "--update")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "scenario", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenario_LoadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\nflow:\n  - op: teleport\n"), 0o644))

	out, err := execute(t, "scenario", path)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "load error")
}
